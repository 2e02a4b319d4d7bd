package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/krithikvaidya/file-delivery-protocol/fdp"
)

func usage() {

	fmt.Fprintf(os.Stderr, "Usage: %v <server|client> [flags]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Run \"%v server -h\" or \"%v client -h\" for the flags of each mode.\n", os.Args[0], os.Args[0])

}

// Value of the environment variable key, or def if it is unset.
func envOr(key, def string) string {

	if val, ok := os.LookupEnv(key); ok {
		return val
	}

	return def
}

func envPort(def int) int {

	port, err := strconv.Atoi(envOr("FDP_PORT", strconv.Itoa(def)))
	if err != nil {
		log.Fatalf("Invalid FDP_PORT: %v", err)
	}

	return port
}

// Send log output to stdout and, if path is set, to a log file as well.
func setupLogging(path string) {

	log.SetFlags(log.Ltime)

	if path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening file: %v", err)
	}

	wrt := io.MultiWriter(os.Stdout, f)
	log.SetOutput(wrt)

}

func main() {

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {

	case "server":
		runServer(os.Args[2:])

	case "client":
		runClient(os.Args[2:])

	default:
		usage()
		os.Exit(2)

	}

}

func runServer(args []string) {

	cfg := fdp.DefaultConfig()

	fs := flag.NewFlagSet("server", flag.ExitOnError)
	fs.StringVar(&cfg.Host, "host", envOr("FDP_HOST", "0.0.0.0"), "address to bind to")
	fs.IntVar(&cfg.Port, "port", envPort(fdp.DefaultPort), "TCP port to listen on")
	fs.StringVar(&cfg.StorageDir, "storage", envOr("FDP_STORAGE", cfg.StorageDir), "directory uploaded files are kept in")
	fs.StringVar(&cfg.StatusAddr, "status", "", "address for the HTTP status endpoints (disabled if empty)")
	fs.StringVar(&cfg.HealthAddr, "health", "", "address for the gRPC health service (disabled if empty)")
	fs.BoolVar(&cfg.WatchStorage, "watch", false, "broadcast the catalog when the storage directory changes externally")
	fs.DurationVar(&cfg.IOTimeout, "timeout", 0, "deadline for servicing a single frame (0 disables)")
	log_file := fs.String("log", "", "also write logs to this file")
	fs.Parse(args)

	setupLogging(*log_file)

	log.Println("File Delivery Protocol server")

	master_context, master_cancel := context.WithCancel(context.Background())

	srv := fdp.NewServer(cfg)

	err := srv.Listen()
	fdp.CheckErrorFatal(err)

	go func() {
		err := srv.Run(master_context)
		fdp.CheckErrorFatal(err)
	}()

	fdp.ListenForShutdown(master_cancel, srv.ShutdownChan, srv.Components())

}

func runClient(args []string) {

	cfg := fdp.DefaultConfig()

	fs := flag.NewFlagSet("client", flag.ExitOnError)
	fs.StringVar(&cfg.Host, "host", envOr("FDP_HOST", cfg.Host), "server address")
	fs.IntVar(&cfg.Port, "port", envPort(fdp.DefaultPort), "server port")
	fs.StringVar(&cfg.DownloadDir, "downloads", envOr("FDP_DOWNLOADS", cfg.DownloadDir), "directory downloads are saved to")
	fs.DurationVar(&cfg.IOTimeout, "timeout", 10*time.Second, "connect and handshake timeout (0 disables)")
	login := fs.String("login", os.Getenv("FDP_LOGIN"), "username to log in with")
	log_file := fs.String("log", "", "also write logs to this file")
	fs.Parse(args)

	setupLogging(*log_file)

	runMenu(cfg, *login)

}
