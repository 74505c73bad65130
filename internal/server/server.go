// Package server exposes the pairing lifecycle over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/session"
)

// Pairer is the session manager surface the handlers consume.
type Pairer interface {
	Begin(ctx context.Context, number string, mode session.Mode) (session.Outcome, error)
	Status(number string) (session.StatusInfo, error)
}

// Server serves /, /pair, /status and the /ws pairing stream.
type Server struct {
	pairer   Pairer
	events   *bus.Bus
	limiter  *RateLimiter
	upgrader websocket.Upgrader

	modeMu      sync.RWMutex
	defaultMode session.Mode
}

// New wires the server. events may be nil, in which case /ws is not
// registered.
func New(pairer Pairer, events *bus.Bus, limiter *RateLimiter, defaultMode session.Mode) *Server {
	if defaultMode == "" {
		defaultMode = session.ModeCode
	}
	return &Server{
		pairer:  pairer,
		events:  events,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The pairing stream is meant for first-party pages and
			// scripts; same-origin enforcement is left to the deployment.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		defaultMode: defaultMode,
	}
}

// SetDefaultMode updates the mode used when a request carries none.
func (s *Server) SetDefaultMode(mode session.Mode) {
	if mode != session.ModeCode && mode != session.ModeQR {
		return
	}
	s.modeMu.Lock()
	s.defaultMode = mode
	s.modeMu.Unlock()
}

func (s *Server) mode() session.Mode {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.defaultMode
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/pair", s.handlePair)
	mux.HandleFunc("/status", s.handleStatus)
	if s.events != nil {
		mux.HandleFunc("/ws", s.handleWS)
	}
	return logRequests(mux)
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// logRequests is a thin slog access-log middleware.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			"method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}
