// Package server accepts print jobs over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"bluecat/internal/config"
	"bluecat/internal/queue"
)

type Server struct {
	queue      *queue.Queue
	cfg        config.ServerConfig
	Router     *gin.Engine
	httpServer *http.Server
}

// New builds the router and makes sure the spool directory exists
func New(q *queue.Queue, cfg config.ServerConfig) (*Server, error) {
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog())

	s := &Server{
		queue:  q,
		cfg:    cfg,
		Router: r,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	limited := s.Router.Group("/", limitBody(s.cfg.MaxUpload))
	limited.POST("/print", s.PrintHandler)
	limited.POST("/text", s.TextHandler)
	limited.POST("/preview", s.PreviewHandler)

	s.Router.POST("/feed", s.FeedHandler)
	s.Router.GET("/status", s.StatusHandler)
	s.Router.GET("/jobs", s.JobsHandler)
}

// Start listens in the background
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.cfg.Address).Msg("http server listening")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()
}

// Stop drains in-flight requests for up to two seconds
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	log.Info().Msg("stopping http server")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.httpServer.Close()
	}
}

// limitBody caps how much of a request body handlers may read
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	}
}
