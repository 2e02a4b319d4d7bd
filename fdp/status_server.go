package fdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const healthServing = grpc_health_v1.HealthCheckResponse_SERVING

// Clients can make a request to the /test endpoint to check if the server is up.
func (srv *Server) TestHandler(w http.ResponseWriter, r *http.Request) {

	fmt.Fprintf(w, "\nFDP server is up\n\n")

}

// Current catalog of the storage directory. Listed from inside the loop, so
// an upload in progress is never reported half written.
func (srv *Server) FilesHandler(w http.ResponseWriter, r *http.Request) {

	catalog, err := srv.Catalog(r.Context())
	if errors.Is(err, ErrServerStopped) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(catalog)

}

// Logins of the connected clients.
func (srv *Server) ClientsHandler(w http.ResponseWriter, r *http.Request) {

	logins, err := srv.ConnectedClients(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(logins)

}

func (srv *Server) StatusRouter() *mux.Router {

	r := mux.NewRouter()

	r.HandleFunc("/test", srv.TestHandler).Methods("GET")
	r.HandleFunc("/files", srv.FilesHandler).Methods("GET")
	r.HandleFunc("/clients", srv.ClientsHandler).Methods("GET")

	return r
}

// HTTP server exposing the status endpoints, shut down when ctx is cancelled.
func (srv *Server) StartStatusServer(ctx context.Context, addr string, testing bool) {

	// Create a server struct
	status_server := &http.Server{
		Handler: srv.StatusRouter(),
		Addr:    addr,
	}

	status_server.SetKeepAlivesEnabled(false)

	// Gracefully shut down the server if context is cancelled
	go func() {

		// Block till context is cancelled
		<-ctx.Done()

		// Shut down the server. On error, forcefully close the server
		shutdown_ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := status_server.Shutdown(shutdown_ctx); err != nil {
			log.Printf("HTTP server Shutdown error: %v\n", err)
			status_server.Close()
		}

	}()

	log.Printf("\nStatus server listening on %v\n", addr)

	err := status_server.ListenAndServe()

	// Handling code for when the server is unexpectedly closed.
	if (err != nil) && (err != http.ErrServerClosed) {
		CheckErrorFatal(err)
	}

	if !testing {
		srv.ShutdownChan <- "Status server shutdown successful."
	}

}

/*
This function starts the gRPC health service on listener and shuts it down
when context is cancelled. The service reports SERVING for "" and
HealthService while the server loop runs.
*/
func (srv *Server) StartHealthServer(ctx context.Context, listener net.Listener, testing bool) {

	grpc_server := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpc_server, srv.health)

	// Shut down the gRPC server if the context is cancelled
	go func() {

		// Block till the context is cancelled
		<-ctx.Done()

		// Stop the server
		grpc_server.GracefulStop()

		if !testing {
			srv.ShutdownChan <- "gRPC health server shutdown successful."
		}

	}()

	log.Printf("\ngRPC health service listening on %v\n", listener.Addr())

	if err := grpc_server.Serve(listener); err != nil {
		log.Printf("\ngRPC health server stopped: %v\n", err)
	}

}
