// Package gateway serves the authenticated HTTP API in front of the
// invocation pipeline.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-partnership/internal/invocation"
	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/Klingon-tech/klingnet-partnership/internal/metrics"
	"github.com/Klingon-tech/klingnet-partnership/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// maxBodySize is the maximum accepted request body (1 MB).
const maxBodySize = 1 << 20

// ErrAuthenticationFailed is reported when the bearer token is missing or wrong.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Contract builds and queries contract invocations.
type Contract interface {
	NewRequest(command string, args ...string) invocation.Request
	Build(ctx context.Context, req invocation.Request) (*invocation.DryRun, error)
	Query(ctx context.Context, req invocation.Request) ([]string, error)
}

// Submitter relays a dry run as a signed transaction.
type Submitter interface {
	Submit(ctx context.Context, dr *invocation.DryRun) (string, error)
}

// Ledger answers read queries against the node.
type Ledger interface {
	Height(ctx context.Context) (uint64, error)
	GetTransaction(ctx context.Context, id types.Hash) (*rpcclient.TxInfo, error)
	GetUnspent(ctx context.Context, id types.Hash) ([]rpcclient.Unspent, error)
}

// WalletStatus reports the wallet's sync state.
type WalletStatus interface {
	Height() uint64
	IsSynced() bool
}

// Config holds the HTTP listener settings.
type Config struct {
	Addr        string
	Token       string
	AllowedIPs  []string // empty = allow all
	CORSOrigins []string // empty = no CORS headers
	RateLimit   float64  // requests per second, 0 = unlimited
	RateBurst   int
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Contract Contract
	Pipeline Submitter
	Ledger   Ledger
	Wallet   WalletStatus
	Metrics  *metrics.Metrics
}

// Server is the REST API server.
type Server struct {
	cfg         Config
	deps        Deps
	token       []byte
	allowedNets []*net.IPNet
	limiter     *rate.Limiter
	router      *mux.Router
	server      *http.Server
	ln          net.Listener
}

// New creates the server and its routes. It does not listen until Start.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:         cfg,
		deps:        deps,
		token:       []byte(cfg.Token),
		allowedNets: parseAllowedIPs(cfg.AllowedIPs),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(s.requestID, s.logRequests, s.recoverPanics, s.filterIP, s.cors)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.authenticate, s.rateLimit)
	api.HandleFunc("/partnership/{address}", s.handlePartnership).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/partnership/{address}", s.handleUpdatePartnership).Methods(http.MethodPut)
	api.HandleFunc("/partnership/{address}", s.handleDeletePartnership).Methods(http.MethodDelete)
	api.HandleFunc("/partnership/{address}/transfer", s.handleTransferPartnership).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/partnership", s.handleCreatePartnership).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/transaction/{id}", s.handleTransaction).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/height", s.handleHeight).Methods(http.MethodGet, http.MethodOptions)
	if s.deps.Metrics != nil {
		api.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			klog.Gateway.Error().Err(err).Msg("Gateway server error")
		}
	}()
	klog.Gateway.Info().Str("addr", s.Addr()).Msg("Gateway listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// parseAllowedIPs converts IP and CIDR entries into networks.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			klog.Gateway.Warn().Str("entry", entry).Msg("Ignoring bad allowed IP")
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}
