package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Server serves the /metrics endpoint on a dedicated listener.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer binds addr and prepares the metrics endpoint. The server does not
// accept connections until Serve is called.
func NewServer(addr string, collector *Collector) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	return &Server{
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks serving the endpoint until Shutdown. A shutdown-initiated
// close returns nil.
func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight scrapes and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
