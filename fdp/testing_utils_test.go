package fdp

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/krithikvaidya/file-delivery-protocol/fdp/file_store"
)

const test_timeout = 5 * time.Second

type testing_st struct {
	t        *testing.T         // The testing object for utility funcs to display errors
	server   *Server            // The server under test
	addr     string             // The address the server listens on
	ctx      context.Context    // Cancelled by end_test()
	cancel   context.CancelFunc // Stops the server
	finished chan struct{}      // Closed once Run() returns
}

/*
 * This function is called at the start of a test case to set up a server
 * on a free loopback port, storing its files in a fresh temporary directory.
 *
 * It only returns once the server loop is running.
 */
func start_test(t *testing.T) *testing_st {

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.StorageDir = filepath.Join(t.TempDir(), "server_files")

	return start_test_with(t, cfg)
}

func start_test_with(t *testing.T, cfg Config) *testing_st {

	test_st := &testing_st{
		t:        t,
		server:   NewServer(cfg),
		finished: make(chan struct{}),
	}

	if err := test_st.server.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	test_st.addr = test_st.server.Addr().String()
	test_st.ctx, test_st.cancel = context.WithCancel(context.Background())

	go func() {
		test_st.server.Run(test_st.ctx)
		close(test_st.finished)
	}()

	// A query only completes once the loop is servicing events
	if _, err := test_st.server.ConnectedClients(test_st.ctx); err != nil {
		t.Fatalf("Server did not start: %v", err)
	}

	return test_st
}

// Stops the server and waits for the loop to exit.
func end_test(test_st *testing_st) {

	test_st.cancel()

	select {
	case <-test_st.finished:
	case <-time.After(test_timeout):
		test_st.t.Errorf("Server did not shut down in time")
	}

}

// Polls the registry until exactly the given logins are connected.
func (test_st *testing_st) wait_clients(expected ...string) {

	deadline := time.Now().Add(test_timeout)

	for {

		logins, err := test_st.server.ConnectedClients(test_st.ctx)
		if err != nil {
			test_st.t.Fatalf("ConnectedClients failed: %v", err)
		}

		if equal_strings(logins, expected) {
			return
		}

		if time.Now().After(deadline) {
			test_st.t.Fatalf("Expected clients %v, got %v", expected, logins)
		}

		time.Sleep(10 * time.Millisecond)
	}

}

func equal_strings(a, b []string) bool {

	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

type resolution struct {
	token string
	path  string
	err   error
}

// Observer that hands everything to the test through buffered channels.
type recorder struct {
	files     chan []file_store.FileRecord
	downloads chan resolution
}

func new_recorder() *recorder {

	return &recorder{
		files:     make(chan []file_store.FileRecord, 64),
		downloads: make(chan resolution, 64),
	}
}

func (rec *recorder) FilesInfoReceived(records []file_store.FileRecord) {
	rec.files <- records
}

func (rec *recorder) DownloadResolved(token, path string, err error) {
	rec.downloads <- resolution{token, path, err}
}

func (rec *recorder) next_catalog(t *testing.T) []file_store.FileRecord {

	select {
	case records := <-rec.files:
		return records
	case <-time.After(test_timeout):
		t.Fatalf("No catalog received")
	}

	return nil
}

func (rec *recorder) next_download(t *testing.T) resolution {

	select {
	case res := <-rec.downloads:
		return res
	case <-time.After(test_timeout):
		t.Fatalf("No download resolved")
	}

	return resolution{}
}

// Connects a client with a recording observer and a temporary download directory.
func (test_st *testing_st) connect_client(login string) (*Client, *recorder) {

	rec := new_recorder()

	c := NewClient(login, rec)
	c.DownloadDir = test_st.t.TempDir()

	if err := c.Connect(test_st.ctx, test_st.addr); err != nil {
		test_st.t.Fatalf("Connect(%v) failed: %v", login, err)
	}

	return c, rec
}

// Opens a bare TCP connection and performs the handshake, returning the reply byte.
func (test_st *testing_st) raw_login(login string) (net.Conn, byte) {

	conn, err := net.Dial("tcp", test_st.addr)
	if err != nil {
		test_st.t.Fatalf("Dial failed: %v", err)
	}

	conn.SetDeadline(time.Now().Add(test_timeout))

	if err := SendExact(conn, padRight([]byte(login), LoginLen)); err != nil {
		test_st.t.Fatalf("Sending login failed: %v", err)
	}

	reply, err := RecvExact(conn, 1)
	if err != nil {
		test_st.t.Fatalf("Reading handshake reply failed: %v", err)
	}

	return conn, reply[0]
}

// Sends a bare FilesInfo request on a raw connection and returns the catalog payload.
func request_catalog(t *testing.T, conn net.Conn) []byte {

	if err := SendExact(conn, EncodeFrame(FilesInfo)); err != nil {
		t.Fatalf("Sending FilesInfo request failed: %v", err)
	}

	frame, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("Reading catalog failed: %v", err)
	}

	if frame.Type != FilesInfo {
		t.Fatalf("Expected FILES_INFO frame, got %v", frame.Type)
	}

	return frame.Payload
}

func write_temp_file(t *testing.T, name string, content []byte) string {

	path := filepath.Join(t.TempDir(), name)

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	return path
}

func check_file(t *testing.T, path string, expected []byte) {

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%v) failed: %v", path, err)
	}

	if !bytes.Equal(got, expected) {
		t.Errorf("Contents of %v differ: got %v bytes, expected %v bytes", path, len(got), len(expected))
	}
}
