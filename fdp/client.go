package fdp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krithikvaidya/file-delivery-protocol/fdp/file_store"
	"github.com/tevino/abool"
	"github.com/trailofbits/go-mutexasserts"
)

// Observer receives what the listener goroutine learns from the server. Its
// methods are called from that goroutine and should not block for long.
type Observer interface {
	FilesInfoReceived(records []file_store.FileRecord)
	DownloadResolved(token, path string, err error)
}

// LogObserver just logs.
type LogObserver struct{}

func (LogObserver) FilesInfoReceived(records []file_store.FileRecord) {

	log.Printf(Cyan+"\n[FILES] %v file(s) on server\n"+Reset, len(records))
	for _, rec := range records {
		log.Printf("  %-40v %v bytes\n", rec.FileName, rec.FileSize)
	}

}

func (LogObserver) DownloadResolved(token, path string, err error) {

	if err != nil {
		log.Printf(Red+"\n[DOWNLOAD] %v failed: %v\n"+Reset, token, err)
		return
	}

	log.Printf(Green+"\n[DOWNLOAD] %v saved to %v\n"+Reset, token, path)
}

type Client struct {
	login    string
	observer Observer

	DownloadDir string
	IOTimeout   time.Duration

	conn      net.Conn
	rd        *bufio.Reader
	connected *abool.AtomicBool
	closing   *abool.AtomicBool
	done      chan struct{}

	write_mu sync.Mutex // one frame on the wire at a time

	pending_mu sync.RWMutex
	pending    map[string]string // download token -> local path
}

func NewClient(login string, observer Observer) *Client {

	if observer == nil {
		observer = LogObserver{}
	}

	return &Client{
		login:       login,
		observer:    observer,
		DownloadDir: DefaultConfig().DownloadDir,
		connected:   abool.New(),
		closing:     abool.New(),
		pending:     make(map[string]string),
	}
}

func (c *Client) Login() string {
	return c.login
}

func (c *Client) Connected() bool {
	return c.connected.IsSet()
}

// Done is closed once the connection is gone and every pending download has
// been resolved.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

/*
Connect dials addr and logs in. If the server already has a session with the
same login it answers with a NACK, and ErrDuplicateLogin is returned. On any
failure the socket is closed and no listener is started.
*/
func (c *Client) Connect(ctx context.Context, addr string) error {

	if !ValidLogin(c.login) {
		return fmt.Errorf("%w: %q", ErrInvalidLogin, c.login)
	}

	if c.connected.IsSet() {
		return errors.New("client already connected")
	}

	dialer := net.Dialer{Timeout: c.IOTimeout}

	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return err
	}

	if c.IOTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.IOTimeout))
	}

	if err := SendExact(conn, padRight([]byte(c.login), LoginLen)); err != nil {
		conn.Close()
		return err
	}

	reply, err := RecvExact(conn, 1)
	if err != nil {
		conn.Close()
		return err
	}

	switch reply[0] {

	case ack:

	case nack:
		conn.Close()
		return fmt.Errorf("%w: %v", ErrDuplicateLogin, c.login)

	default:
		conn.Close()
		return fmt.Errorf("%w: handshake reply %q", ErrMalformedHeader, reply[0])

	}

	conn.SetDeadline(time.Time{})

	c.conn = conn
	c.rd = bufio.NewReaderSize(conn, ChunkSize*4)
	c.done = make(chan struct{})
	c.closing.UnSet()
	c.connected.Set()

	log.Printf(Green+"\nConnected to %v as %v\n"+Reset, addr, c.login)

	go c.listen()

	return nil
}

/*
Send is the generic entry point used by the CLI. What data means depends on t:

	UploadFile    local path; stored on the server under its base name
	DownloadFile  remote name; saved as DownloadDir/name
	DeleteFile    remote name
	Debug/Command text
	FilesInfo     ignored
	Disconnect    ignored
*/
func (c *Client) Send(t DataType, data string) error {

	switch t {

	case Debug, Command:
		return c.writeFrame(EncodeFrame(t, []byte(data)))

	case UploadFile:
		return c.Upload(data)

	case DownloadFile:
		_, err := c.Download(data, filepath.Join(c.DownloadDir, data))
		return err

	case DeleteFile:
		return c.Delete(data)

	case FilesInfo:
		return c.RequestFilesInfo()

	case Disconnect:
		return c.Disconnect()

	default:
		return fmt.Errorf("%w: %v", ErrUnknownDataType, t)

	}

}

func (c *Client) writeFrame(frame []byte) error {

	c.write_mu.Lock()
	defer c.write_mu.Unlock()

	if !c.connected.IsSet() {
		return ErrNotConnected
	}

	if err := SendExact(c.conn, frame); err != nil {
		c.conn.Close()
		return err
	}

	return nil
}

// Upload streams the file at path to the server, which stores it under the
// path's base name.
func (c *Client) Upload(path string) error {

	name := filepath.Base(path)
	if !file_store.ValidName(name) {
		return fmt.Errorf("%w: %q", file_store.ErrInvalidName, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%v is not a regular file", path)
	}

	c.write_mu.Lock()
	defer c.write_mu.Unlock()

	if !c.connected.IsSet() {
		return ErrNotConnected
	}

	size := uint64(info.Size())

	err = SendExact(c.conn, EncodeFrame(UploadFile, []byte(name)))
	if err == nil {
		err = SendStream(c.conn, f, size)
	}

	logTransfer("upload", name, size, err)

	if err != nil {
		// the stream can no longer be framed
		c.conn.Close()
	}

	return err
}

/*
Download asks the server for remote and records where the answer should be
saved. The result arrives asynchronously through Observer.DownloadResolved
with the returned token. If local already exists when the file arrives it is
saved as "name (n).ext" instead.
*/
func (c *Client) Download(remote, local string) (string, error) {

	token := uuid.New().String()

	if !c.addPending(token, local) {
		return "", ErrNotConnected
	}

	if err := c.writeFrame(EncodeFrame(DownloadFile, []byte(remote), []byte(token))); err != nil {
		c.takePending(token)
		return "", err
	}

	return token, nil
}

func (c *Client) Delete(remote string) error {
	return c.writeFrame(EncodeFrame(DeleteFile, []byte(remote)))
}

func (c *Client) RequestFilesInfo() error {
	return c.writeFrame(EncodeFrame(FilesInfo))
}

// Disconnect tells the server we are leaving, closes the connection and waits
// for the listener to finish.
func (c *Client) Disconnect() error {

	c.write_mu.Lock()

	if !c.connected.IsSet() {
		c.write_mu.Unlock()
		return ErrNotConnected
	}

	c.closing.Set()
	err := SendExact(c.conn, EncodeFrame(Disconnect))
	c.conn.Close()

	c.write_mu.Unlock()

	<-c.done

	return err
}

// PendingDownloads returns the tokens still waiting for an answer.
func (c *Client) PendingDownloads() []string {

	c.pending_mu.RLock()
	defer c.pending_mu.RUnlock()

	tokens := make([]string, 0, len(c.pending))
	for token := range c.pending {
		tokens = append(tokens, token)
	}

	sort.Strings(tokens)

	return tokens
}

// Refuses new entries once the connection is down, so nothing can be added
// after the listener has flushed the table.
func (c *Client) addPending(token, path string) bool {

	c.pending_mu.Lock()
	defer c.pending_mu.Unlock()

	if !c.connected.IsSet() {
		return false
	}

	c.assertPendingLocked("addPending")
	c.pending[token] = path

	return true
}

func (c *Client) takePending(token string) (string, bool) {

	c.pending_mu.Lock()
	defer c.pending_mu.Unlock()

	c.assertPendingLocked("takePending")

	path, ok := c.pending[token]
	delete(c.pending, token)

	return path, ok
}

// Marks the client disconnected and empties the token table in one step.
func (c *Client) drainPending() map[string]string {

	c.pending_mu.Lock()
	defer c.pending_mu.Unlock()

	c.assertPendingLocked("drainPending")

	c.connected.UnSet()

	drained := c.pending
	c.pending = make(map[string]string)

	return drained
}

// Lock checks are opt-in: set FDP_ASSERT_LOCKS to enable them.
var assert_locks = abool.NewBool(os.Getenv("FDP_ASSERT_LOCKS") != "")

func (c *Client) assertPendingLocked(where string) {

	if assert_locks.IsSet() && !mutexasserts.RWMutexLocked(&c.pending_mu) {
		log.Panicf("pending table accessed without write lock in %v", where)
	}

}
