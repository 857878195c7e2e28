package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lockedworlds/lockedworlds/log"
)

// shutdownTimeout bounds how long an HTTP service waits for in-flight
// requests on stop.
const shutdownTimeout = 5 * time.Second

// HTTPService serves a handler on a TCP address as a lifecycle Service.
type HTTPService struct {
	name    string
	addr    string
	handler http.Handler
	log     *log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewHTTPService creates a service serving handler on addr once started.
func NewHTTPService(name, addr string, handler http.Handler) *HTTPService {
	return &HTTPService{
		name:    name,
		addr:    addr,
		handler: handler,
		log:     log.Module("http").With("service", name),
	}
}

// Name implements Service.
func (s *HTTPService) Name() string { return s.name }

// Start binds the listener and serves in the background.
func (s *HTTPService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server failed", "err", err)
		}
	}(s.server)
	s.log.Info("HTTP server started", "endpoint", "http://"+ln.Addr().String())
	return nil
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *HTTPService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

// Addr returns the bound address, or the configured one before Start.
func (s *HTTPService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the http URL of the bound address.
func (s *HTTPService) URL() string {
	return "http://" + s.Addr()
}
