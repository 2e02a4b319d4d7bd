package fdp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	HeaderLen = 64 // width of every length header
	LoginLen  = 64 // width of the login sent on connect
	ChunkSize = 1024

	DefaultPort = 6942

	// Handshake replies.
	ack  = '1'
	nack = '0'

	// Upper bound for in-memory payloads (text, names, tokens, catalogs).
	// File contents are streamed and never held in memory.
	MaxBlockLen = 16 << 20
)

// Pads b on the right with spaces to exactly width bytes, truncating if longer.
func padRight(b []byte, width int) []byte {

	out := bytes.Repeat([]byte{' '}, width)
	copy(out, b)

	return out
}

// EncodeHeader renders n as decimal ASCII right-padded with spaces to HeaderLen.
func EncodeHeader(n uint64) []byte {
	return padRight([]byte(strconv.FormatUint(n, 10)), HeaderLen)
}

func DecodeHeader(b []byte) (uint64, error) {

	if len(b) != HeaderLen {
		return 0, fmt.Errorf("%w: header is %v bytes, expected %v", ErrMalformedHeader, len(b), HeaderLen)
	}

	text := strings.Trim(string(b), " ")
	if text == "" {
		return 0, fmt.Errorf("%w: empty header", ErrMalformedHeader)
	}

	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedHeader, text)
	}

	return n, nil
}

// SendExact keeps writing until all of buf has been accepted by w.
func SendExact(w io.Writer, buf []byte) error {

	sent := 0

	for sent < len(buf) {

		n, err := w.Write(buf[sent:])
		sent += n

		if err != nil {
			if isClosedErr(err) {
				return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return err
		}

		if n == 0 {
			return ErrConnectionClosed
		}

	}

	return nil
}

// RecvExact reads exactly n bytes. If the stream ends first, the partial data
// is dropped and ErrConnectionClosed is returned.
func RecvExact(r io.Reader, n int) ([]byte, error) {

	buf := make([]byte, n)

	if n == 0 {
		return buf, nil
	}

	if _, err := io.ReadFull(r, buf); err != nil {
		if isClosedErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return nil, err
	}

	return buf, nil
}
