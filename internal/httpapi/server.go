package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"DealScanner/internal/usecase"
)

const secretHeader = "X-Bot-Secret-Token"

// Runner is the subset of the pipeline the HTTP triggers need.
type Runner interface {
	Run(ctx context.Context) (usecase.RunSummary, error)
	FlushDigest(ctx context.Context, queue string, now time.Time) (string, error)
}

// Server exposes the run and digest triggers over HTTP. Every mutating
// endpoint requires the shared secret header.
type Server struct {
	runner Runner
	secret string
	log    *slog.Logger
	engine *gin.Engine
}

// NewServer builds the gin engine with all routes registered.
func NewServer(runner Runner, secret string, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		runner: runner,
		secret: secret,
		log:    log.With("component", "http"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/", s.health)
	authed := s.engine.Group("/", s.requireSecret)
	authed.POST("/run", s.triggerRun)
	authed.POST("/digest/flush", s.triggerFlush)
	return s
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks serving HTTP until the listener fails.
func (s *Server) ListenAndServe(port string) error {
	s.log.Info("http server listening", "port", port)
	return s.engine.Run(":" + port)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requireSecret(c *gin.Context) {
	if s.secret == "" || c.GetHeader(secretHeader) != s.secret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) triggerRun(c *gin.Context) {
	summary, err := s.runner.Run(c.Request.Context())
	if err != nil {
		s.log.Error("triggered run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "summary": summary})
}

func (s *Server) triggerFlush(c *gin.Context) {
	queue := c.Query("queue")
	url, err := s.runner.FlushDigest(c.Request.Context(), queue, time.Now())
	if err != nil {
		s.log.Error("triggered flush failed", "queue", queue, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, usecase.ErrUnknownQueue) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flushed", "queue": queue, "url": url})
}
