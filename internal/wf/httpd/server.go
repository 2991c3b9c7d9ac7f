// Package httpd is the loopback HTTP server used for http-input nodes and
// the UI bridge's websocket endpoint, grounded on the teacher's
// internal/web.Server (stdlib net/http, graceful shutdown) generalized to
// vocode's http/server.py InternalHTTPServer: routes are added/removed at
// runtime with a usage-count-gated start/stop, since ServeMux offers no
// route-removal API the whole mux is rebuilt from the route table on every
// change, mirroring the original's _rebuild_dispatcher.
package httpd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pocketomega/pocket-omega/internal/wf/logging"
)

var log = logging.New("httpd")

// RouteHandle identifies a registered route for later removal.
type RouteHandle struct {
	Method string
	Path   string
}

func (h RouteHandle) key() routeKey { return routeKey{h.Method, h.Path} }

type routeKey struct{ method, path string }

// Settings configures the server.
type Settings struct {
	Host      string
	Port      int
	SecretKey string // bearer-token auth; empty disables auth
}

// Server is a loopback HTTP server that starts lazily on the first route
// registration and stops once its last route is removed.
type Server struct {
	settings Settings

	mu      sync.Mutex
	routes  map[routeKey]http.HandlerFunc
	mux     *http.ServeMux
	srv     *http.Server
	running bool
	usage   int
}

// New constructs a Server; it does not start listening until a route is
// registered.
func New(settings Settings) *Server {
	return &Server{settings: settings, routes: make(map[routeKey]http.HandlerFunc)}
}

// IsRunning reports whether the underlying listener is currently active.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// AddRoute registers handler at method+path, starting the server if it is
// not already listening. Returns an error if the route already exists.
func (s *Server) AddRoute(method, path string, handler http.HandlerFunc) (RouteHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := routeKey{method, path}
	if _, exists := s.routes[key]; exists {
		return RouteHandle{}, fmt.Errorf("route already registered: %s %s", method, path)
	}
	if err := s.ensureStartedLocked(); err != nil {
		return RouteHandle{}, err
	}
	s.routes[key] = handler
	s.rebuildMuxLocked()
	s.usage++
	return RouteHandle{Method: method, Path: path}, nil
}

// RemoveRoute deregisters a route previously returned by AddRoute, stopping
// the server once usage drops to zero.
func (s *Server) RemoveRoute(handle RouteHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := handle.key()
	if _, ok := s.routes[key]; !ok {
		return fmt.Errorf("route not registered: %s %s", handle.Method, handle.Path)
	}
	delete(s.routes, key)
	s.rebuildMuxLocked()
	if s.usage > 0 {
		s.usage--
	}
	return s.shutdownIfIdleLocked()
}

func (s *Server) rebuildMuxLocked() {
	mux := http.NewServeMux()
	for key, handler := range s.routes {
		pattern := key.method + " " + key.path
		mux.HandleFunc(pattern, handler)
	}
	s.mux = mux
	if s.srv != nil {
		s.srv.Handler = mux
	}
}

func (s *Server) ensureStartedLocked() error {
	if s.running {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
	s.mux = http.NewServeMux()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpd listen %s: %w", addr, err)
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("serve error: %v", err)
		}
	}()
	s.running = true
	log.Info("listening on %s", addr)
	return nil
}

func (s *Server) shutdownIfIdleLocked() error {
	if s.usage != 0 || !s.running {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	s.running = false
	return err
}

// RequireBearerAuth wraps handler with bearer-token auth when a secret key
// is configured; with no secret configured it passes requests through.
func (s *Server) RequireBearerAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.settings.SecretKey == "" {
			handler(w, r)
			return
		}
		expected := "Bearer " + s.settings.SecretKey
		if r.Header.Get("Authorization") != expected {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}
