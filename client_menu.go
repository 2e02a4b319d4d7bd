package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/krithikvaidya/file-delivery-protocol/fdp"
)

const menu_help = `Commands:
  debug <text>              send a debug message
  command <text>            send a command
  upload <path>             upload a local file
  download <name> [local]   download a file from the server
  delete <name>             delete a file on the server
  list                      request the server's file list
  pending                   show downloads still in progress
  help                      show this message
  quit                      disconnect and exit`

// Prompts until a valid login is entered.
func promptLogin(in *bufio.Scanner) string {

	for {

		fmt.Print("Username: ")

		if !in.Scan() {
			os.Exit(0)
		}

		login := strings.TrimSpace(in.Text())

		if fdp.ValidLogin(login) {
			return login
		}

		fmt.Printf("Usernames must be 1-%v letters or digits.\n", fdp.LoginLen)
	}

}

func runMenu(cfg fdp.Config, login string) {

	in := bufio.NewScanner(os.Stdin)

	if login == "" {
		login = promptLogin(in)
	}

	c := fdp.NewClient(login, fdp.LogObserver{})
	c.DownloadDir = cfg.DownloadDir
	c.IOTimeout = cfg.IOTimeout

	err := c.Connect(context.Background(), cfg.Address())
	fdp.CheckErrorFatal(err)

	fmt.Println(menu_help)

	lines := make(chan string)

	go func() {
		for in.Scan() {
			lines <- in.Text()
		}
		close(lines)
	}()

	for {

		fmt.Print("> ")

		select {

		case <-c.Done():
			return

		case line, ok := <-lines:

			if !ok {
				c.Disconnect()
				return
			}

			if quit := handleLine(c, line); quit {
				return
			}

		}

	}

}

// Parses one menu line and runs it. Returns true once the client has disconnected.
func handleLine(c *fdp.Client, line string) bool {

	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd := line
	rest := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		cmd, rest = line[:i], strings.TrimSpace(line[i+1:])
	}

	var err error

	switch strings.ToLower(cmd) {

	case "debug":
		err = c.Send(fdp.Debug, rest)

	case "command":
		err = c.Send(fdp.Command, rest)

	case "upload":
		err = c.Send(fdp.UploadFile, rest)

	case "download":
		args := strings.Fields(rest)

		switch len(args) {
		case 1:
			err = c.Send(fdp.DownloadFile, args[0])
		case 2:
			var token string
			token, err = c.Download(args[0], args[1])
			if err == nil {
				log.Printf("Download of %v requested (token %v)\n", args[0], token)
			}
		default:
			err = fmt.Errorf("usage: download <name> [local]")
		}

	case "delete":
		err = c.Send(fdp.DeleteFile, rest)

	case "list", "files":
		err = c.Send(fdp.FilesInfo, "")

	case "pending":
		fmt.Println(strings.Join(c.PendingDownloads(), "\n"))

	case "help":
		fmt.Println(menu_help)

	case "quit", "exit":
		c.Send(fdp.Disconnect, "")
		return true

	default:
		err = fmt.Errorf("unknown command: %s", cmd)

	}

	if err != nil {
		log.Printf(fdp.Red+"Error: %v\n"+fdp.Reset, err)
	}

	return false
}
