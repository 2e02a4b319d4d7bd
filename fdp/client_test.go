package fdp

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestClientRejectsInvalidLogin(t *testing.T) {

	for _, login := range []string{"", "white space", "ünïcode", string(make([]byte, LoginLen+1))} {

		c := NewClient(login, nil)

		// Nothing listens here; validation must fail before dialing
		err := c.Connect(context.Background(), "127.0.0.1:1")
		if !errors.Is(err, ErrInvalidLogin) {
			t.Errorf("Login %q: expected ErrInvalidLogin, got %v", login, err)
		}
	}
}

func TestSendBeforeConnect(t *testing.T) {

	c := NewClient("alice", nil)

	if err := c.Send(Command, "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	if _, err := c.Download("a.txt", filepath.Join(t.TempDir(), "a.txt")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	if err := c.Send(DataType(9), "x"); !errors.Is(err, ErrUnknownDataType) {
		t.Errorf("Expected ErrUnknownDataType, got %v", err)
	}

	if len(c.PendingDownloads()) != 0 {
		t.Errorf("Failed download left a pending token")
	}
}

// Turns on the pending table lock checks for the rest of the test.
func enable_lock_asserts(t *testing.T) {

	previous := assert_locks.IsSet()
	assert_locks.Set()

	t.Cleanup(func() {
		assert_locks.SetTo(previous)
	})
}

func TestPendingLockAssertion(t *testing.T) {

	enable_lock_asserts(t)

	c := NewClient("alice", nil)

	defer func() {
		if recover() == nil {
			t.Errorf("Unlocked access to the pending table was not caught")
		}
	}()

	c.assertPendingLocked("test")
}

/*
 * End to end: a 10 KB file is uploaded in 1024 byte chunks, downloaded back
 * and compared byte for byte.
 */
func TestUploadDownloadRoundTrip(t *testing.T) {

	test_st := start_test(t)
	defer end_test(test_st)

	c, rec := test_st.connect_client("alice")

	for _, size := range []int{10 * ChunkSize, 10*ChunkSize + 321, 0} {

		data := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(data)

		name := "blob.bin"
		if err := c.Upload(write_temp_file(t, name, data)); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		rec.next_catalog(t)

		local := filepath.Join(t.TempDir(), "copy.bin")

		token, err := c.Download(name, local)
		if err != nil {
			t.Fatalf("Download failed: %v", err)
		}

		res := rec.next_download(t)
		if res.err != nil {
			t.Fatalf("Download resolved with error: %v", res.err)
		}

		if res.token != token || res.path != local {
			t.Errorf("Resolution %v does not match token %v / path %v", res, token, local)
		}

		check_file(t, local, data)
	}

	if pending := c.PendingDownloads(); len(pending) != 0 {
		t.Errorf("Pending downloads left over: %v", pending)
	}
}

/*
 * Two downloads of the same remote file to different local paths, issued
 * concurrently, must both complete with the right contents and leave the
 * token table empty. Lock checks on the token table are enabled throughout.
 */
func TestConcurrentDownloads(t *testing.T) {

	enable_lock_asserts(t)

	test_st := start_test(t)
	defer end_test(test_st)

	c, rec := test_st.connect_client("alice")

	data := make([]byte, 5*ChunkSize+3)
	rand.New(rand.NewSource(3)).Read(data)

	if err := c.Upload(write_temp_file(t, "shared.bin", data)); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	rec.next_catalog(t)

	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "one.bin"), filepath.Join(dir, "two.bin")}
	tokens := make([]string, len(paths))

	var wg sync.WaitGroup

	for i := range paths {

		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			token, err := c.Download("shared.bin", paths[i])
			if err != nil {
				t.Errorf("Download %v failed: %v", i, err)
			}
			tokens[i] = token
		}(i)

	}

	wg.Wait()

	if tokens[0] == tokens[1] {
		t.Errorf("Both downloads got the same token %v", tokens[0])
	}

	resolved := map[string]string{}
	for range paths {
		res := rec.next_download(t)
		if res.err != nil {
			t.Errorf("Download %v failed: %v", res.token, res.err)
		}
		resolved[res.token] = res.path
	}

	for i, token := range tokens {
		if resolved[token] != paths[i] {
			t.Errorf("Token %v resolved to %v, expected %v", token, resolved[token], paths[i])
		}
		check_file(t, paths[i], data)
	}

	if pending := c.PendingDownloads(); len(pending) != 0 {
		t.Errorf("Pending downloads left over: %v", pending)
	}
}

func TestDownloadMissingFile(t *testing.T) {

	enable_lock_asserts(t)

	test_st := start_test(t)
	defer end_test(test_st)

	c, rec := test_st.connect_client("alice")

	local := filepath.Join(t.TempDir(), "missing.txt")

	token, err := c.Download("missing.txt", local)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	res := rec.next_download(t)

	if res.token != token || !errors.Is(res.err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound for %v, got %v", token, res)
	}

	if _, err := os.Stat(local); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Nothing should have been written to %v", local)
	}

	if pending := c.PendingDownloads(); len(pending) != 0 {
		t.Errorf("Pending downloads left over: %v", pending)
	}
}

// An existing local file is never overwritten by a download.
func TestDownloadRenamesOnCollision(t *testing.T) {

	test_st := start_test(t)
	defer end_test(test_st)

	c, rec := test_st.connect_client("alice")

	if err := c.Upload(write_temp_file(t, "doc.txt", []byte("server copy"))); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	rec.next_catalog(t)

	// Send(DownloadFile) saves under DownloadDir with the remote name
	existing := filepath.Join(c.DownloadDir, "doc.txt")
	os.WriteFile(existing, []byte("local copy"), 0644)

	if err := c.Send(DownloadFile, "doc.txt"); err != nil {
		t.Fatalf("Send(DownloadFile) failed: %v", err)
	}

	res := rec.next_download(t)
	if res.err != nil {
		t.Fatalf("Download failed: %v", res.err)
	}

	renamed := filepath.Join(c.DownloadDir, "doc (1).txt")
	if res.path != renamed {
		t.Errorf("Expected download saved as %v, got %v", renamed, res.path)
	}

	check_file(t, existing, []byte("local copy"))
	check_file(t, renamed, []byte("server copy"))
}

/*
 * If the connection dies while downloads are outstanding, every one of them
 * is resolved with ErrConnectionClosed.
 *
 * A bare listener plays the server: it accepts the login, reads the two
 * download requests and hangs up without answering.
 */
func TestPendingDownloadsFailOnConnectionLoss(t *testing.T) {

	enable_lock_asserts(t)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()

	requests := make(chan int, 1)

	go func() {

		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		RecvExact(conn, LoginLen)
		SendExact(conn, []byte{ack})

		n := 0
		for ; n < 2; n++ {
			if data_type, err := ReadType(conn); err != nil || data_type != DownloadFile {
				break
			}
			ReadBlock(conn)
			ReadBlock(conn)
		}

		requests <- n
	}()

	rec := new_recorder()
	c := NewClient("alice", rec)

	if err := c.Connect(context.Background(), listener.Addr().String()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dir := t.TempDir()
	c.Download("a", filepath.Join(dir, "a"))
	c.Download("b", filepath.Join(dir, "b"))

	if n := <-requests; n != 2 {
		t.Fatalf("Fake server read %v requests, expected 2", n)
	}

	for i := 0; i < 2; i++ {
		if res := rec.next_download(t); !errors.Is(res.err, ErrConnectionClosed) {
			t.Errorf("Expected ErrConnectionClosed, got %v", res.err)
		}
	}

	<-c.Done()

	if c.Connected() {
		t.Errorf("Client still connected after the server hung up")
	}

	if pending := c.PendingDownloads(); len(pending) != 0 {
		t.Errorf("Pending downloads left over: %v", pending)
	}
}

/*
 * An Error frame only means "file not found" when the server says so. Any
 * other failure on the server side is reported as ErrRemote.
 *
 * A bare listener plays the server and answers the first download request
 * with a permission error and the second with a missing file.
 */
func TestServerErrorsClassified(t *testing.T) {

	enable_lock_asserts(t)

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer listener.Close()

	go func() {

		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		RecvExact(conn, LoginLen)
		SendExact(conn, []byte{ack})

		replies := []string{"open a.txt: permission denied", "file not found: b.txt"}

		for _, msg := range replies {

			if data_type, err := ReadType(conn); err != nil || data_type != DownloadFile {
				return
			}

			ReadBlock(conn)
			token, err := ReadBlock(conn)
			if err != nil {
				return
			}

			SendExact(conn, EncodeFrame(Error, token, []byte(msg)))
		}

		// hold the connection until the client leaves
		ReadType(conn)
	}()

	rec := new_recorder()
	c := NewClient("alice", rec)

	if err := c.Connect(context.Background(), listener.Addr().String()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	dir := t.TempDir()

	if _, err := c.Download("a.txt", filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	res := rec.next_download(t)
	if errors.Is(res.err, ErrFileNotFound) || !errors.Is(res.err, ErrRemote) {
		t.Errorf("Permission error resolved as %v", res.err)
	}

	if _, err := c.Download("b.txt", filepath.Join(dir, "b.txt")); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	res = rec.next_download(t)
	if !errors.Is(res.err, ErrFileNotFound) || errors.Is(res.err, ErrRemote) {
		t.Errorf("Missing file resolved as %v", res.err)
	}
}

func TestRemoteError(t *testing.T) {

	tests := []struct {
		msg      string
		missing  bool
		expected string
	}{
		{"file not found: a.txt", true, "file not found: a.txt"},
		{"file not found", true, "file not found"},
		{"open x: permission denied", false, "server error: open x: permission denied"},
		{"", false, "server error: "},
	}

	for _, tt := range tests {

		err := remoteError(tt.msg)

		if errors.Is(err, ErrFileNotFound) != tt.missing {
			t.Errorf("remoteError(%q) = %v, missing should be %v", tt.msg, err, tt.missing)
		}

		if err.Error() != tt.expected {
			t.Errorf("remoteError(%q) = %q, expected %q", tt.msg, err.Error(), tt.expected)
		}
	}
}

func TestUploadRejectsBadPaths(t *testing.T) {

	test_st := start_test(t)
	defer end_test(test_st)

	c, _ := test_st.connect_client("alice")

	if err := c.Upload(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Errorf("Expected error uploading a missing file")
	}

	if err := c.Upload(t.TempDir()); err == nil {
		t.Errorf("Expected error uploading a directory")
	}

	// Connection must still be usable afterwards
	if err := c.RequestFilesInfo(); err != nil {
		t.Errorf("Connection broken after rejected uploads: %v", err)
	}
}
