package fdp

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
	"unicode"
)

// Reference for colourization: https://twinnation.org/articles/35/how-to-add-colors-to-your-console-terminal-output-in-go

var Reset = "\033[0m"
var Red = "\033[31m"
var Green = "\033[32m"
var Yellow = "\033[33m"
var Blue = "\033[34m"
var Cyan = "\033[36m"

func init() {

	if runtime.GOOS == "windows" {
		Reset = ""
		Red = ""
		Green = ""
		Yellow = ""
		Blue = ""
		Cyan = ""
	}
}

func CheckErrorFatal(err error) {

	if err != nil {
		log.Fatalf("%v[Fatal Error]%v: %v", Red, Reset, err) // The Fatalf functions call os.Exit(1) after writing the log message.
	}

}

// Logins are non-empty, ASCII alphanumeric and fit in the login field.
func ValidLogin(login string) bool {

	if login == "" || len(login) > LoginLen {
		return false
	}

	for _, r := range login {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}

	return true
}

// Listen for termination signal and call master cancel. Wait for n spawned
// goroutines to report on shutdown_chan before returning.
func ListenForShutdown(master_cancel context.CancelFunc, shutdown_chan <-chan string, n int) {

	// We capture termination signals and ensure that the program shuts down properly.
	os_sigs := make(chan os.Signal, 1)                      // Listen for OS signals, with buffer size 1
	signal.Notify(os_sigs, syscall.SIGTERM, syscall.SIGINT) // SIGKILL and SIGSTOP cannot be caught by a program

	rcvd_sig := <-os_sigs

	log.Printf("\n\nTermination signal received: %v\n", rcvd_sig)

	signal.Stop(os_sigs) // Stop listening for signals
	close(os_sigs)

	master_cancel()

	WaitForShutdown(shutdown_chan, n)

}

func WaitForShutdown(shutdown_chan <-chan string, n int) {

	log.Println()
	for i := 1; i <= n; i++ {

		select {
		case str := <-shutdown_chan:
			log.Printf("[%v/%v] %v", i, n, str)
		case <-time.After(5 * time.Second):
			log.Printf("\nTimeout expired, force shutdown invoked.\n")
			return
		}

	}

}
