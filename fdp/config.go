package fdp

import (
	"net"
	"strconv"
	"time"
)

type Config struct {
	Host string
	Port int

	StorageDir  string // server: where uploaded files live
	DownloadDir string // client: default destination for downloads

	StatusAddr   string // HTTP status endpoints, disabled if empty
	HealthAddr   string // gRPC health service, disabled if empty
	WatchStorage bool   // broadcast the catalog on external changes to StorageDir

	// Deadline applied while servicing one frame or handshake. 0 disables it.
	IOTimeout time.Duration
}

func DefaultConfig() Config {

	return Config{
		Host:        "127.0.0.1",
		Port:        DefaultPort,
		StorageDir:  "server_files",
		DownloadDir: "downloads",
	}
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
