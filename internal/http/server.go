package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

// Server is the operator status endpoint that runs beside a crawl.
type Server struct {
	Engine *gin.Engine
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

// Start serves on addr until ctx ends. An empty addr disables the server.
func (s *Server) Start(ctx context.Context, log *logger.Logger, addr string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &nethttp.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Error("status server failed", "error", err, "addr", addr)
		}
	}()
	log.Info("status server listening", "addr", addr)
}
