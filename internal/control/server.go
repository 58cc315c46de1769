// Package control exposes the daemon's status API: a health snapshot
// endpoint and a websocket feed of playback progress. The API is
// observational only; pipeline control stays with the daemon process.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server is the HTTP status API
type Server struct {
	listen string
	health func() any
	http   *http.Server

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// progressEvent is one websocket progress message
type progressEvent struct {
	Fraction  float64   `json:"fraction"`
	Timestamp time.Time `json:"timestamp"`
}

// NewServer creates the status API. health is called per request to
// produce the /health payload.
func NewServer(listen string, health func() any) *Server {
	return &Server{
		listen: listen,
		health: health,
		subs:   make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API is bound locally; cross-origin viewers are expected
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start launches the HTTP server in the background
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/ws/progress", s.handleProgress)

	s.http = &http.Server{
		Addr:    s.listen,
		Handler: router,
	}

	go func() {
		slog.Info("control api listening", "addr", s.listen)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control api failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server and closes all progress feeds
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.subs {
		conn.Close()
	}
	s.subs = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("control api shutdown failed: %w", err)
	}
	return nil
}

// BroadcastProgress pushes a progress fraction to all connected feeds.
// Failed connections are dropped.
func (s *Server) BroadcastProgress(fraction float64) {
	event := progressEvent{Fraction: fraction, Timestamp: time.Now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.subs {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(event); err != nil {
			slog.Debug("dropping progress subscriber", "error", err)
			conn.Close()
			delete(s.subs, conn)
		}
	}
}

// Subscribers returns the number of connected progress feeds
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.health())
}

func (s *Server) handleProgress(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.subs[conn] = struct{}{}
	s.mu.Unlock()
	slog.Debug("progress subscriber connected", "remote", conn.RemoteAddr())

	// Reader loop only detects disconnect; the feed is one-way
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.subs, conn)
				s.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}
