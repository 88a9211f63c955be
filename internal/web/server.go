package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, deps Deps) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: sub static fs: %w", err)
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewStatusBroadcaster()
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(deps, subFS),
	}, nil
}

// Handlers returns the handlers behind the mux.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("POST /capture", h.HandleCapture)
	mux.HandleFunc("POST /timer", h.HandleTimer)
	mux.HandleFunc("POST /timer/cancel", h.HandleCancelTimer)
	mux.HandleFunc("POST /save", h.HandleSave)
	mux.HandleFunc("POST /retake", h.HandleRetake)

	mux.HandleFunc("GET /config", h.HandleConfig)
	mux.HandleFunc("GET /state", h.HandleState)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.HandleFunc("GET /image.jpg", h.HandleImage)
	mux.HandleFunc("GET /preview.jpg", h.HandlePreview)
	mux.HandleFunc("GET /albums", h.HandleAlbums)
	mux.HandleFunc("GET /albums/{id}/assets", h.HandleAlbumAssets)

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Controller state changes are forwarded to SSE clients while
// it runs.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts derive from ctx so open SSE streams end on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	fwdCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()
	go s.handlers.ForwardState(fwdCtx)

	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
