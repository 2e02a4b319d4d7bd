package fdp

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Number of chunks a stream of size bytes is split into. The last one may be short.
func ChunkCount(size uint64) uint64 {
	return (size + ChunkSize - 1) / ChunkSize
}

/*
SendStream writes a size header followed by exactly size bytes from src, in
chunks of ChunkSize. If src runs dry early the stream on w can no longer be
framed correctly, so the returned error (ErrStreamAborted) must be treated as
fatal for the connection.
*/
func SendStream(w io.Writer, src io.Reader, size uint64) error {

	if err := WriteLength(w, size); err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)

	for remaining := size; remaining > 0; {

		n := uint64(ChunkSize)
		if remaining < n {
			n = remaining
		}

		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return fmt.Errorf("%w: %v", ErrStreamAborted, err)
		}

		if err := SendExact(w, buf[:n]); err != nil {
			return err
		}

		remaining -= n
	}

	return nil
}

/*
ReceiveStream reads a size header and copies that many bytes to dst. If dst
fails, the rest of the stream is still consumed so the connection stays in
sync; the write failure is then reported wrapped in ErrDestinationWrite.
Any other error means the connection itself is gone.
*/
func ReceiveStream(r io.Reader, dst io.Writer) (uint64, error) {

	size, err := ReadLength(r)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, ChunkSize)
	var write_err error

	for remaining := size; remaining > 0; {

		n := uint64(ChunkSize)
		if remaining < n {
			n = remaining
		}

		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			if isClosedErr(err) {
				return size - remaining, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return size - remaining, err
		}

		if write_err == nil {
			if _, err := dst.Write(buf[:n]); err != nil {
				write_err = err
			}
		}

		remaining -= n
	}

	if write_err != nil {
		return size, fmt.Errorf("%w: %v", ErrDestinationWrite, write_err)
	}

	return size, nil
}

// DiscardStream consumes a file stream nobody wants.
func DiscardStream(r io.Reader) (uint64, error) {
	return ReceiveStream(r, io.Discard)
}

/*
ReceiveFile stores an incoming stream at path, creating or truncating it
before the first chunk. When the file cannot be created the stream is drained
and ErrDestinationWrite returned.
*/
func ReceiveFile(r io.Reader, path string) (uint64, error) {

	err := os.MkdirAll(filepath.Dir(path), 0755)

	var f *os.File
	if err == nil {
		f, err = os.Create(path)
	}

	if err != nil {

		if _, derr := DiscardStream(r); derr != nil && !errors.Is(derr, ErrDestinationWrite) {
			return 0, derr
		}

		return 0, fmt.Errorf("%w: %v", ErrDestinationWrite, err)
	}

	size, err := ReceiveStream(r, f)

	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("%w: %v", ErrDestinationWrite, cerr)
	}

	return size, err
}

// UnusedPath returns path, or "name (n).ext" with the lowest n that does not
// exist yet.
func UnusedPath(path string) string {

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	for n := 1; ; n++ {

		candidate := stem + " (" + strconv.Itoa(n) + ")" + ext

		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// Logs a transfer outcome the same way for both peers.
func logTransfer(direction, name string, size uint64, err error) {

	if err != nil {
		log.Printf(Red+"[FILE]"+Reset+" %v %q failed after %v bytes: %v\n", direction, name, size, err)
		return
	}

	log.Printf(Green+"[FILE]"+Reset+" %v %q: %v bytes in %v chunks\n", direction, name, size, ChunkCount(size))
}
