package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrewdyar/switchyard-sub001/internal/http/response"
)

// Pinger checks that a dependency the crawl writes to is reachable.
type Pinger func(ctx context.Context) error

type HealthHandler struct {
	store Pinger
}

// NewHealthHandler reports liveness only when store is nil.
func NewHealthHandler(store Pinger) *HealthHandler { return &HealthHandler{store: store} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store(ctx); err != nil {
			response.RespondError(c, http.StatusServiceUnavailable, "store_unreachable", err)
			return
		}
	}
	c.String(http.StatusOK, "ok")
}
