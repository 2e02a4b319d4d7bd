package fdp

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/krithikvaidya/file-delivery-protocol/fdp/file_store"
)

/*
listen runs for the lifetime of one connection and dispatches every frame
the server sends. When the connection goes away, for whatever reason, every
download still waiting for an answer is resolved with ErrConnectionClosed.
*/
func (c *Client) listen() {

	var err error

	for err == nil {
		err = c.handleFrame()
	}

	c.conn.Close()

	if c.closing.IsSet() {
		log.Print(Cyan + "\nDisconnected from server\n" + Reset)
	} else {
		log.Printf(Red+"\nConnection to server lost: %v\n"+Reset, err)
	}

	for token, path := range c.drainPending() {
		c.observer.DownloadResolved(token, path, ErrConnectionClosed)
	}

	close(c.done)
}

func (c *Client) handleFrame() error {

	data_type, err := ReadType(c.rd)
	if err != nil {
		return err
	}

	switch data_type {

	case Debug, Command:

		payload, err := ReadBlock(c.rd)
		if err != nil {
			return err
		}

		log.Printf("[%v] [server] %s\n", data_type, payload)

	case FilesInfo:

		payload, err := ReadBlock(c.rd)
		if err != nil {
			return err
		}

		records, err := file_store.DecodeCatalog(payload)
		if err != nil {
			log.Printf(Yellow+"\nIgnoring malformed catalog: %v\n"+Reset, err)
			return nil
		}

		c.observer.FilesInfoReceived(records)

	case DownloadFile:
		return c.receiveDownload()

	case Error:

		token, err := ReadBlock(c.rd)
		if err != nil {
			return err
		}

		msg, err := ReadBlock(c.rd)
		if err != nil {
			return err
		}

		path, ok := c.takePending(string(token))
		if !ok {
			log.Printf(Yellow+"\nServer error for unknown token %v: %s\n"+Reset, string(token), msg)
			return nil
		}

		c.observer.DownloadResolved(string(token), path, remoteError(string(msg)))

	default:

		n, err := DiscardBlock(c.rd)
		if err != nil {
			return err
		}

		log.Printf(Yellow+"\n%v: dropped %v byte frame of type %v\n"+Reset, ErrUnknownDataType, n, data_type)

	}

	return nil
}

func (c *Client) receiveDownload() error {

	raw_token, err := ReadBlock(c.rd)
	if err != nil {
		return err
	}

	token := string(raw_token)

	path, ok := c.takePending(token)
	if !ok {

		log.Printf(Yellow+"\nDownload for unknown token %v, discarding\n"+Reset, token)

		_, err := DiscardStream(c.rd)
		return err
	}

	path = UnusedPath(path)

	size, err := ReceiveFile(c.rd, path)
	logTransfer("download", path, size, err)

	if err != nil && !errors.Is(err, ErrDestinationWrite) {
		// connection is gone; the token has already been taken so resolve it here
		c.observer.DownloadResolved(token, path, err)
		return err
	}

	c.observer.DownloadResolved(token, path, err)

	return nil
}

// The server sends "file not found: <name>" for missing files and the bare
// error text for anything else.
func remoteError(msg string) error {

	if strings.HasPrefix(msg, ErrFileNotFound.Error()) {
		return fmt.Errorf("%w%s", ErrFileNotFound, strings.TrimPrefix(msg, ErrFileNotFound.Error()))
	}

	return fmt.Errorf("%w: %s", ErrRemote, msg)
}
