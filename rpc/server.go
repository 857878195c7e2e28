package rpc

import (
	"net/http"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/cors"

	"github.com/lockedworlds/lockedworlds/log"
)

// Config configures the HTTP JSON-RPC endpoint.
type Config struct {
	// CORSOrigins lists the origins browsers may call from.
	CORSOrigins []string
	// RequestsPerSecond is the per-client request rate; zero disables
	// rate limiting.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a permissive local-development configuration.
func DefaultConfig() *Config {
	return &Config{
		CORSOrigins:       []string{"*"},
		RequestsPerSecond: 100,
		Burst:             200,
	}
}

// Server is the chain's JSON-RPC server. The eth_ and net_ namespaces are
// dispatched by go-ethereum's rpc server so standard clients work against
// it unchanged.
type Server struct {
	rpc     *gethrpc.Server
	handler http.Handler
	log     *log.Logger
}

// NewServer creates a JSON-RPC server over backend.
func NewServer(backend Backend, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	srv := gethrpc.NewServer()
	if err := srv.RegisterName("eth", NewEthAPI(backend)); err != nil {
		return nil, err
	}
	if err := srv.RegisterName("net", &NetAPI{backend: backend}); err != nil {
		return nil, err
	}

	var h http.Handler = srv
	if cfg.RequestsPerSecond > 0 {
		h = NewClientLimiter(cfg.RequestsPerSecond, cfg.Burst).Middleware(h)
	}
	h = cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	}).Handler(h)

	return &Server{rpc: srv, handler: h, log: log.Module("rpc")}, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// DialInProc returns a client connected to the server without a network
// round trip.
func (s *Server) DialInProc() *gethrpc.Client {
	return gethrpc.DialInProc(s.rpc)
}

// Stop closes all client connections.
func (s *Server) Stop() {
	s.rpc.Stop()
	s.log.Debug("JSON-RPC server stopped")
}
