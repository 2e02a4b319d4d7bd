package fdp

import (
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// The peer went away before a read or write could complete.
	ErrConnectionClosed = errors.New("connection closed")

	ErrMalformedHeader  = errors.New("malformed header")
	ErrUnknownDataType  = errors.New("unknown data type")
	ErrDuplicateLogin   = errors.New("login already connected")
	ErrInvalidLogin     = errors.New("invalid login")
	ErrFileNotFound     = errors.New("file not found")
	ErrRemote           = errors.New("server error")
	ErrNotConnected     = errors.New("client not connected")
	ErrServerStopped    = errors.New("server stopped")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum block length")
	ErrDestinationWrite = errors.New("could not write received file")
	ErrStreamAborted    = errors.New("source ended before declared size")
)

// Whether err means the other end of the stream is gone.
func isClosedErr(err error) bool {

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED)
}
