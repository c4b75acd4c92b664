// Package gitproxy runs a loopback git smart-HTTP proxy that injects
// credentials from the task configuration. Workspace remotes point at the
// proxy, so tokens never appear in git config or process arguments.
package gitproxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"envmanager/internal/log"
	"envmanager/internal/taskspec"
)

// CredentialSource resolves an upstream URL to a credential.
type CredentialSource interface {
	MatchCredential(requestURL string) (taskspec.Credential, bool)
}

// Server is the loopback proxy. Register each workspace repository with an
// alias, rewrite its remote to URLFor(alias), and the proxy forwards
// info/refs, git-upload-pack, and git-receive-pack to the real upstream
// with the matching Authorization header attached.
type Server struct {
	creds      CredentialSource
	client     *http.Client
	router     chi.Router
	listenAddr string

	mu        sync.RWMutex
	upstreams map[string]string // alias -> upstream base URL

	listener net.Listener
	server   *http.Server
}

// Option configures the proxy server.
type Option func(*Server)

// WithListenAddr sets the bind address (git_proxy.listen_addr). Port zero
// picks a free port. Empty keeps the default loopback ephemeral bind.
func WithListenAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.listenAddr = addr
		}
	}
}

// WithRequestTimeout bounds a single upstream request
// (git_proxy.request_timeout). Zero keeps the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// NewServer creates a proxy backed by the given credential source.
func NewServer(creds CredentialSource, opts ...Option) *Server {
	s := &Server{
		creds:      creds,
		client:     &http.Client{Timeout: 5 * time.Minute},
		listenAddr: "127.0.0.1:0",
		upstreams:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// git talks from loopback only, but keep CORS tight anyway.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Git-Protocol"},
		MaxAge:         300,
	}))

	r.Route("/{repo}", func(r chi.Router) {
		r.Get("/info/refs", s.handleInfoRefs)
		r.Post("/git-upload-pack", s.handleService("git-upload-pack"))
		r.Post("/git-receive-pack", s.handleService("git-receive-pack"))
	})

	s.router = r
}

// RegisterRepo maps an alias to its real upstream base URL.
func (s *Server) RegisterRepo(alias, upstreamURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstreams[alias] = strings.TrimSuffix(upstreamURL, "/")
}

// URLFor returns the proxy-local remote URL for a registered alias.
// Only valid after Start.
func (s *Server) URLFor(alias string) string {
	return fmt.Sprintf("http://%s/%s", s.Addr(), alias)
}

// Addr returns the listener address (host:port). Empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the configured listen address and serves until Shutdown or
// context cancellation.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("binding git proxy listener: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error(log.CatProxy, "git proxy serve failed", "error", err)
		}
	}()

	log.Debug(log.CatProxy, "git proxy listening", "addr", s.Addr())
	return nil
}

// Shutdown stops the proxy.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) upstreamFor(alias string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.upstreams[alias]
	return u, ok
}

func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "repo")
	upstream, ok := s.upstreamFor(alias)
	if !ok {
		http.Error(w, "unknown repository", http.StatusNotFound)
		return
	}

	target := upstream + "/info/refs"
	if raw := r.URL.RawQuery; raw != "" {
		target += "?" + raw
	}
	s.forward(w, r, target, upstream)
}

func (s *Server) handleService(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alias := chi.URLParam(r, "repo")
		upstream, ok := s.upstreamFor(alias)
		if !ok {
			http.Error(w, "unknown repository", http.StatusNotFound)
			return
		}
		s.forward(w, r, upstream+"/"+service, upstream)
	}
}

// forward relays the request to target with credentials injected. Request and
// response bodies stream through untouched; pack data can be large.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, target, upstream string) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "bad upstream request", http.StatusInternalServerError)
		return
	}

	for _, h := range []string{"Content-Type", "Accept", "Git-Protocol", "Accept-Encoding"} {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	if cred, ok := s.creds.MatchCredential(upstream); ok {
		req.Header.Set("Authorization", authorizationFor(cred))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// err may embed the target URL but never the credential.
		log.Warn(log.CatProxy, "upstream request failed", "target", target, "error", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)

	log.Debug(log.CatProxy, "proxied git request",
		"method", r.Method, "path", r.URL.Path, "status", resp.StatusCode)
}

// authorizationFor builds the Authorization header for a credential.
// Bearer tokens pass through; everything else uses basic auth with the
// token as password, which is what GitHub-style PATs expect.
func authorizationFor(cred taskspec.Credential) string {
	if strings.EqualFold(cred.Type, "bearer") {
		return "Bearer " + cred.Token
	}
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + cred.Token))
	return "Basic " + basic
}
