// Package http serves the wallet's local API. It listens on loopback only and
// requires the per-process session token for every call that changes state or
// prompts the authenticator.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/quantumauth-io/gmgn-wallet/internal/broker"
	"github.com/quantumauth-io/gmgn-wallet/internal/networks"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
	"github.com/quantumauth-io/gmgn-wallet/internal/storage"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type Options struct {
	Session        *session.Session
	Registry       *networks.Registry
	Prefs          *storage.Preferences
	AllowedOrigins []string
}

type Server struct {
	sess      *session.Session
	registry  *networks.Registry
	prefs     *storage.Preferences
	estimator *broker.Estimator
	broker    *broker.Broker
	router    *mux.Router

	sessionToken   string
	allowedOrigins map[string]struct{}

	mu       sync.Mutex
	draft    *broker.Draft
	estimate *broker.Estimate
}

func NewServer(opt Options) (*Server, error) {
	if opt.Session == nil || opt.Registry == nil || opt.Prefs == nil {
		return nil, errors.New("http: session, registry and prefs are required")
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	s := &Server{
		sess:           opt.Session,
		registry:       opt.Registry,
		prefs:          opt.Prefs,
		estimator:      broker.NewEstimator(opt.Session),
		broker:         broker.New(opt.Session),
		router:         mux.NewRouter(),
		sessionToken:   token,
		allowedOrigins: make(map[string]struct{}, len(opt.AllowedOrigins)),
	}
	for _, o := range opt.AllowedOrigins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		s.allowedOrigins[o] = struct{}{}
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(withRequestLog)

	r.HandleFunc("/healthz", s.withPublicGuards(s.handleHealth)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/status", s.withPublicGuards(s.handleStatus)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/networks", s.withPublicGuards(s.handleNetworks)).Methods(http.MethodGet, http.MethodOptions)

	w := r.PathPrefix("/wallet").Subrouter()
	w.HandleFunc("/create", s.withSessionGuards(s.handleCreateWallet)).Methods(http.MethodPost, http.MethodOptions)
	w.HandleFunc("/load", s.withSessionGuards(s.handleLoadWallet)).Methods(http.MethodPost, http.MethodOptions)
	w.HandleFunc("/balance", s.withSessionGuards(s.handleRefreshBalance)).Methods(http.MethodPost, http.MethodOptions)
	w.HandleFunc("/network", s.withSessionGuards(s.handleSwitchNetwork)).Methods(http.MethodPost, http.MethodOptions)
	w.HandleFunc("/sign", s.withSessionGuards(s.handleSignMessage)).Methods(http.MethodPost, http.MethodOptions)
	w.HandleFunc("/reset", s.withSessionGuards(s.handleReset)).Methods(http.MethodPost, http.MethodOptions)
	w.HandleFunc("/qr", s.withPublicGuards(s.handleAddressQR)).Methods(http.MethodGet, http.MethodOptions)

	n := r.PathPrefix("/preferences").Subrouter()
	n.HandleFunc("/default-network", s.withSessionGuards(s.handleSetDefaultNetwork)).Methods(http.MethodPut, http.MethodOptions)
	n.HandleFunc("/available-networks", s.withSessionGuards(s.handleSetAvailableNetworks)).Methods(http.MethodPut, http.MethodOptions)
	n.HandleFunc("/available-networks", s.withSessionGuards(s.handleResetAvailableNetworks)).Methods(http.MethodDelete)

	t := r.PathPrefix("/tx").Subrouter()
	t.HandleFunc("/draft", s.withPublicGuards(s.handleGetDraft)).Methods(http.MethodGet)
	t.HandleFunc("/draft", s.withSessionGuards(s.handleNewDraft)).Methods(http.MethodPost, http.MethodOptions)
	t.HandleFunc("/draft", s.withSessionGuards(s.handlePatchDraft)).Methods(http.MethodPatch)
	t.HandleFunc("/estimate", s.withSessionGuards(s.handleEstimate)).Methods(http.MethodPost, http.MethodOptions)
	t.HandleFunc("/submit", s.withSessionGuards(s.handleSubmit)).Methods(http.MethodPost, http.MethodOptions)

	// sub-routers do not inherit this handler
	for _, sr := range []*mux.Router{r, w, n, t} {
		sr.MethodNotAllowedHandler = methodNotAllowed
	}
}

var methodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, HTTPErrorMethodNotAllowedText, http.StatusMethodNotAllowed)
})

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Token is the value callers must send in the X-GMGN-Session header.
func (s *Server) Token() string { return s.sessionToken }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("local API listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("HTTP server gracefully stopped")
	return nil
}
