// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/calligrapher/internal/di"
	"github.com/Corphon/calligrapher/internal/services"
	"github.com/Corphon/calligrapher/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Server is the preview server: the HTTP API plus the event hub.
type Server struct {
	router  *gin.Engine
	hub     *Hub
	preview *services.PreviewService
	logger  *utils.Logger
}

// NewServer builds the preview server from the container.
func NewServer(container *di.Container, root string) (*Server, error) {
	preview, err := di.Resolve[*services.PreviewService](container, di.ServicePreview)
	if err != nil {
		return nil, err
	}
	logger := utils.GetLogger()
	hub := NewHub(logger)
	router, err := SetupRouter(container, hub, root)
	if err != nil {
		return nil, err
	}
	return &Server{router: router, hub: hub, preview: preview, logger: logger}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Serve runs the server on ln until ctx is cancelled, then shuts down
// gracefully and closes all preview sessions.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("preview server listening", map[string]interface{}{"addr": ln.Addr().String()})

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		s.logger.Info("shutting down preview server", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// hijacked websocket connections are not tracked by Shutdown
		s.hub.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serveErr = err
		}
	}

	s.preview.Shutdown()
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return serveErr
}

// ListenAndServe listens on addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// WatchFile restarts the sessions playing path whenever it changes and
// tells connected clients about it.
func (s *Server) WatchFile(ctx context.Context, path string, interval time.Duration) error {
	watcher := services.NewWatchService(path, interval, func(ctx context.Context) error {
		ids := s.preview.Reload(ctx, path)
		s.logger.Info("story changed, sessions reloaded", map[string]interface{}{"path": path, "sessions": len(ids)})
		s.hub.Publish(Event{Type: EventReload, Path: path, Data: ids})
		for _, id := range ids {
			if snap, err := s.preview.Get(id); err == nil {
				s.hub.Publish(Event{Type: EventTurn, SessionID: id, Path: path, Data: newSessionView(snap)})
			}
		}
		return nil
	})
	return watcher.Run(ctx)
}
