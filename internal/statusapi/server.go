// Package statusapi exposes a read-only HTTP view of a run: health,
// current status, and a rendered activity log.
package statusapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ngoclaw/agentwatch/internal/loop"
	"github.com/ngoclaw/agentwatch/internal/runstate"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"
)

// Config controls the listen address.
type Config struct {
	Host string
	Port int
}

// StateProvider is the subset of *loop.Engine the status API reads from.
type StateProvider interface {
	RunState() *runstate.RunState
}

// Server is the read-only status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New builds a Server. currentState must never be nil once the loop has
// started; call sites pass the *loop.Engine itself. wsHandler, if
// non-nil, is mounted at GET /ws — call sites pass a statuspush.Hub's
// ServeWS to expose the live event push alongside the poll-based endpoints
// below. A nil wsHandler simply omits the route.
func New(cfg Config, currentState StateProvider, currentLoopState func() loop.State, startTime time.Time, logger *zap.Logger, wsHandler http.HandlerFunc) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if wsHandler != nil {
		router.GET("/ws", func(c *gin.Context) { wsHandler(c.Writer, c.Request) })
	}

	router.GET("/status", func(c *gin.Context) {
		rs := currentState.RunState()
		c.JSON(http.StatusOK, gin.H{
			"loop_state":        string(currentLoopState()),
			"current_iteration": rs.CurrentIteration(),
			"start_time":        startTime.Format(time.RFC3339),
			"uptime_seconds":    time.Since(startTime).Seconds(),
		})
	})

	router.GET("/activity", func(c *gin.Context) {
		rs := currentState.RunState()
		plain := rs.FormatActivityLog()

		if c.Query("format") == "html" {
			md := goldmark.New()
			var out writerBuffer
			if err := md.Convert([]byte(toMarkdown(rs)), &out); err != nil {
				c.String(http.StatusInternalServerError, "render activity log: %v", err)
				return
			}
			c.Data(http.StatusOK, "text/html; charset=utf-8", out.Bytes())
			return
		}
		c.String(http.StatusOK, plain)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		logger:     logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("status API listening", zap.String("address", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status API server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("status API request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func toMarkdown(rs *runstate.RunState) string {
	md := "# Activity Log\n\n```\n" + rs.FormatActivityLog() + "\n```\n"
	return md
}

// writerBuffer adapts a []byte accumulator to io.Writer for goldmark.Convert.
type writerBuffer struct {
	data []byte
}

func (w *writerBuffer) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *writerBuffer) Bytes() []byte { return w.data }
