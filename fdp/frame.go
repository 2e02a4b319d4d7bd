package fdp

import (
	"fmt"
	"io"
)

type DataType byte

const (
	Debug DataType = iota
	Command
	UploadFile
	DownloadFile
	FilesInfo
	DeleteFile
	Disconnect
	Error // server reports a failed download: token | message
)

var data_type_names = [...]string{
	"DEBUG",
	"COMMAND",
	"UPLOAD_FILE",
	"DOWNLOAD_FILE",
	"FILES_INFO",
	"DELETE_FILE",
	"DISCONNECT",
	"ERROR",
}

func (t DataType) Valid() bool {
	return int(t) < len(data_type_names)
}

func (t DataType) String() string {

	if !t.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}

	return data_type_names[t]
}

// On the wire the type is the ASCII digit of its value.
func (t DataType) wireByte() byte {
	return '0' + byte(t)
}

// A text frame: type | length | payload.
type Frame struct {
	Type    DataType
	Payload []byte
}

/*
EncodeFrame builds a complete frame in one buffer: the type byte followed by
each block as length | bytes. With no blocks it is just the bare type byte,
as used by FilesInfo requests and Disconnect.
*/
func EncodeFrame(t DataType, blocks ...[]byte) []byte {

	size := 1
	for _, b := range blocks {
		size += HeaderLen + len(b)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, t.wireByte())

	for _, b := range blocks {
		buf = append(buf, EncodeHeader(uint64(len(b)))...)
		buf = append(buf, b...)
	}

	return buf
}

// ReadType reads one type byte. Digits outside the known range are returned
// as-is (Valid() == false) so the caller can drain the frame; anything that is
// not a digit means the stream is out of sync.
func ReadType(r io.Reader) (DataType, error) {

	b, err := RecvExact(r, 1)
	if err != nil {
		return 0, err
	}

	if b[0] < '0' || b[0] > '9' {
		return 0, fmt.Errorf("%w: type byte %q", ErrMalformedHeader, b[0])
	}

	return DataType(b[0] - '0'), nil
}

func WriteType(w io.Writer, t DataType) error {
	return SendExact(w, []byte{t.wireByte()})
}

func ReadLength(r io.Reader) (uint64, error) {

	b, err := RecvExact(r, HeaderLen)
	if err != nil {
		return 0, err
	}

	return DecodeHeader(b)
}

func WriteLength(w io.Writer, n uint64) error {
	return SendExact(w, EncodeHeader(n))
}

// ReadBlock reads a length header and then that many bytes.
func ReadBlock(r io.Reader) ([]byte, error) {

	n, err := ReadLength(r)
	if err != nil {
		return nil, err
	}

	if n > MaxBlockLen {
		return nil, fmt.Errorf("%w: %v bytes", ErrPayloadTooLarge, n)
	}

	return RecvExact(r, int(n))
}

func WriteBlock(w io.Writer, payload []byte) error {

	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = append(buf, EncodeHeader(uint64(len(payload)))...)
	buf = append(buf, payload...)

	return SendExact(w, buf)
}

// DiscardBlock skips over a length-prefixed block of any size.
func DiscardBlock(r io.Reader) (uint64, error) {

	n, err := ReadLength(r)
	if err != nil {
		return 0, err
	}

	if err := discardN(r, n); err != nil {
		return 0, err
	}

	return n, nil
}

func discardN(r io.Reader, n uint64) error {

	for n > 0 {

		step := n
		if step > ChunkSize {
			step = ChunkSize
		}

		if _, err := RecvExact(r, int(step)); err != nil {
			return err
		}

		n -= step
	}

	return nil
}

// ReadFrame reads a whole text frame.
func ReadFrame(r io.Reader) (Frame, error) {

	t, err := ReadType(r)
	if err != nil {
		return Frame{}, err
	}

	payload, err := ReadBlock(r)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Type: t, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame) error {
	return SendExact(w, EncodeFrame(f.Type, f.Payload))
}
