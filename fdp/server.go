package fdp

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/krithikvaidya/file-delivery-protocol/fdp/file_store"
	"google.golang.org/grpc/health"
)

const (
	HealthService = "fdp.FileDelivery"

	watch_debounce = 250 * time.Millisecond
)

// A logged-in client as seen by the server.
type session struct {
	login   string
	address string
	conn    net.Conn
	rd      *bufio.Reader

	// Hands the connection back to its watcher after the loop is done with
	// it: true to keep watching, false to stop.
	resume chan bool
}

// A connection whose login has been read, waiting for the loop to admit it.
type login_attempt struct {
	conn  net.Conn
	login string
}

// Posted by a session's watcher when its connection has data (or an error) waiting.
type readiness struct {
	s   *session
	err error
}

/*
Server accepts clients and services all of their frames from a single loop
goroutine. Each connection has a small watcher goroutine that only peeks
for the next byte and then parks until the loop has finished with it, so
at most one frame is ever being serviced at a time and the client registry
needs no lock: it is only touched from inside the loop.
*/
type Server struct {
	cfg   Config
	store *file_store.Store

	listener net.Listener
	clients  map[string]*session

	accepted chan login_attempt
	ready    chan readiness
	queries  chan func()
	done     chan struct{}

	health *health.Server

	// Last catalog frame broadcast by the loop.
	last_catalog []byte

	// Components report here once they have shut down. Buffered so that
	// nothing blocks if nobody is listening.
	ShutdownChan chan string
}

func NewServer(cfg Config) *Server {

	return &Server{
		cfg:          cfg,
		store:        file_store.InitializeStore(cfg.StorageDir),
		clients:      make(map[string]*session),
		accepted:     make(chan login_attempt),
		ready:        make(chan readiness),
		queries:      make(chan func()),
		done:         make(chan struct{}),
		health:       health.NewServer(),
		ShutdownChan: make(chan string, 3),
	}
}

func (srv *Server) Store() *file_store.Store {
	return srv.store
}

// Listen binds the TCP listener. Run calls it if it has not been called yet.
func (srv *Server) Listen() error {

	listener, err := net.Listen("tcp4", srv.cfg.Address())
	if err != nil {
		return err
	}

	srv.listener = listener
	return nil
}

func (srv *Server) Addr() net.Addr {

	if srv.listener == nil {
		return nil
	}

	return srv.listener.Addr()
}

// Number of components that will report on ShutdownChan for this config.
func (srv *Server) Components() int {

	n := 1

	if srv.cfg.StatusAddr != "" {
		n++
	}

	if srv.cfg.HealthAddr != "" {
		n++
	}

	return n
}

// Run serves until ctx is cancelled.
func (srv *Server) Run(ctx context.Context) error {

	if srv.listener == nil {
		if err := srv.Listen(); err != nil {
			return err
		}
	}

	log.Printf(Green+"\nFDP server listening on %v, storing files in %v\n"+Reset, srv.listener.Addr(), srv.store.Dir())

	srv.health.SetServingStatus("", healthServing)
	srv.health.SetServingStatus(HealthService, healthServing)

	if srv.cfg.StatusAddr != "" {
		go srv.StartStatusServer(ctx, srv.cfg.StatusAddr, false)
	}

	if srv.cfg.HealthAddr != "" {

		health_listener, err := net.Listen("tcp", srv.cfg.HealthAddr)
		if err != nil {
			srv.listener.Close()
			return err
		}

		go srv.StartHealthServer(ctx, health_listener, false)
	}

	var changed <-chan struct{}

	if srv.cfg.WatchStorage {

		var err error
		changed, err = srv.store.Watch(ctx)
		if err != nil {
			log.Printf(Yellow+"\nStorage watch disabled: %v\n"+Reset, err)
		}

	}

	go srv.acceptConnections(ctx)

	srv.loop(ctx, changed)

	return nil
}

func (srv *Server) acceptConnections(ctx context.Context) {

	for {

		conn, err := srv.listener.Accept()

		if err != nil {

			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			log.Printf("\nAccept error: %v\n", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		go srv.readLogin(ctx, conn)

	}

}

/*
The first LoginLen bytes on a new connection are the client's login, padded
with spaces. They are read here, outside the loop, so a peer that connects
and never sends anything holds up nobody but itself.
*/
func (srv *Server) readLogin(ctx context.Context, conn net.Conn) {

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	clear_deadline := srv.withDeadline(conn)

	raw, err := RecvExact(conn, LoginLen)
	if err != nil {
		log.Printf("\nHandshake with %v failed: %v\n", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	clear_deadline()

	attempt := login_attempt{
		conn:  conn,
		login: strings.Trim(string(raw), " "),
	}

	select {
	case srv.accepted <- attempt:
	case <-ctx.Done():
		conn.Close()
	}

}

func (srv *Server) loop(ctx context.Context, changed <-chan struct{}) {

	var debounce <-chan time.Time

	for {

		select {

		case <-ctx.Done():
			srv.shutdown()
			return

		case attempt := <-srv.accepted:
			srv.handshake(ctx, attempt)

		case ev := <-srv.ready:
			srv.service(ev)

		case query := <-srv.queries:
			query()

		case _, ok := <-changed:
			if !ok {
				changed = nil
				continue
			}
			debounce = time.After(watch_debounce)

		case <-debounce:
			debounce = nil
			srv.broadcastExternalChange()

		}

	}

}

func (srv *Server) shutdown() {

	srv.listener.Close()

	for _, s := range srv.clients {
		srv.closeSession(s, "server shutting down")
	}

	srv.health.Shutdown()

	close(srv.done)

	srv.ShutdownChan <- "FDP server shutdown successful."
}

// Sets the per-frame deadline on conn if one is configured. The returned
// func clears it again.
func (srv *Server) withDeadline(conn net.Conn) func() {

	if srv.cfg.IOTimeout <= 0 {
		return func() {}
	}

	conn.SetDeadline(time.Now().Add(srv.cfg.IOTimeout))

	return func() {
		conn.SetDeadline(time.Time{})
	}
}

/*
Admits a connection whose login has been read. An invalid or already-connected
login gets a NACK and the new connection is closed; the existing session is
unaffected.
*/
func (srv *Server) handshake(ctx context.Context, attempt login_attempt) {

	conn, login := attempt.conn, attempt.login

	clear_deadline := srv.withDeadline(conn)

	address := conn.RemoteAddr().String()

	if _, taken := srv.clients[login]; taken || !ValidLogin(login) {

		if taken {
			log.Printf(Yellow+"\n%v is already connected to the server\n"+Reset, login)
		} else {
			log.Printf(Yellow+"\nRejected invalid login %q from %v\n"+Reset, login, address)
		}

		SendExact(conn, []byte{nack})
		conn.Close()
		return
	}

	if err := SendExact(conn, []byte{ack}); err != nil {
		log.Printf("\nHandshake with %v failed: %v\n", address, err)
		conn.Close()
		return
	}

	clear_deadline()

	s := &session{
		login:   login,
		address: address,
		conn:    conn,
		rd:      bufio.NewReaderSize(conn, ChunkSize*4),
		resume:  make(chan bool, 1),
	}

	srv.clients[login] = s

	log.Printf(Green+"\n%v has connected to the server from %v\n"+Reset, login, address)

	go srv.watchSession(ctx, s)
}

func (srv *Server) watchSession(ctx context.Context, s *session) {

	for {

		_, err := s.rd.Peek(1)

		select {
		case srv.ready <- readiness{s: s, err: err}:
		case <-ctx.Done():
			return
		}

		select {
		case keep := <-s.resume:
			if !keep {
				return
			}
		case <-ctx.Done():
			return
		}

	}

}

// Services one frame from a ready session and hands the connection back to its watcher.
func (srv *Server) service(ev readiness) {

	s := ev.s

	if srv.clients[s.login] != s {
		// already closed, e.g. after a failed broadcast
		s.resume <- false
		return
	}

	if ev.err != nil {
		srv.closeSession(s, describeClose(ev.err))
		s.resume <- false
		return
	}

	clear_deadline := srv.withDeadline(s.conn)
	err := srv.handleFrame(s)
	clear_deadline()

	if err != nil {
		srv.closeSession(s, describeClose(err))
		s.resume <- false
		return
	}

	s.resume <- srv.clients[s.login] == s
}

func describeClose(err error) string {

	switch {
	case errors.Is(err, errClientDisconnect):
		return "disconnected"
	case errors.Is(err, ErrConnectionClosed), isClosedErr(err):
		return "connection lost"
	default:
		return err.Error()
	}

}

// Closes and unregisters a session. Safe to call more than once.
func (srv *Server) closeSession(s *session, reason string) {

	if srv.clients[s.login] == s {
		delete(srv.clients, s.login)
		log.Printf(Cyan+"\n%v has disconnected from the server (%v)\n"+Reset, s.login, reason)
	}

	s.conn.Close()
}

// Sends frame to every connected client. Clients that cannot be written to are dropped.
func (srv *Server) broadcast(frame []byte) {

	for _, s := range srv.clients {
		if err := SendExact(s.conn, frame); err != nil {
			srv.closeSession(s, "broadcast failed: "+err.Error())
		}
	}

}

/*
query runs fn inside the loop goroutine and waits for it to finish. This is
how anything outside the loop (status endpoints, tests) reads the registry.
*/
func (srv *Server) query(ctx context.Context, fn func()) error {

	finished := make(chan struct{})

	select {
	case srv.queries <- func() { fn(); close(finished) }:
	case <-srv.done:
		return ErrServerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

// ConnectedClients returns the logins of all current sessions, sorted.
func (srv *Server) ConnectedClients(ctx context.Context) ([]string, error) {

	logins := []string{}

	err := srv.query(ctx, func() {
		for login := range srv.clients {
			logins = append(logins, login)
		}
	})

	sort.Strings(logins)

	return logins, err
}

// Catalog returns the encoded file list as the loop sees it, between frames.
func (srv *Server) Catalog(ctx context.Context) ([]byte, error) {

	var catalog []byte
	var list_err error

	err := srv.query(ctx, func() {
		catalog, list_err = srv.store.Catalog()
	})

	if err != nil {
		return nil, err
	}

	return catalog, list_err
}
