package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrewdyar/switchyard-sub001/internal/http/response"
	"github.com/andrewdyar/switchyard-sub001/internal/ingest"
	"github.com/andrewdyar/switchyard-sub001/internal/proxy"
)

// StatsSource is the live counter book of the running coordinator.
type StatsSource interface {
	Snapshot() map[string]ingest.Snapshot
	Totals() ingest.Snapshot
}

type ProxySource interface {
	Snapshot() []proxy.Stats
}

type StatusHandler struct {
	stats   StatsSource
	proxies ProxySource
	started time.Time
	now     func() time.Time
}

func NewStatusHandler(stats StatsSource, proxies ProxySource) *StatusHandler {
	return &StatusHandler{stats: stats, proxies: proxies, started: time.Now(), now: time.Now}
}

type statusResponse struct {
	Uptime    string                     `json:"uptime"`
	Retailers map[string]ingest.Snapshot `json:"retailers"`
	Totals    ingest.Snapshot            `json:"totals"`
	Proxies   []proxy.Stats              `json:"proxies,omitempty"`
}

// Stats serves GET /stats. ?retailer= narrows the response to one retailer.
func (h *StatusHandler) Stats(c *gin.Context) {
	if h.stats == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "not_running", nil)
		return
	}
	out := statusResponse{
		Uptime:    h.now().Sub(h.started).Round(time.Second).String(),
		Retailers: h.stats.Snapshot(),
		Totals:    h.stats.Totals(),
	}
	if r := c.Query("retailer"); r != "" {
		snap, ok := out.Retailers[r]
		if !ok {
			response.RespondError(c, http.StatusNotFound, "unknown_retailer", nil)
			return
		}
		out.Retailers = map[string]ingest.Snapshot{r: snap}
		out.Totals = snap
	}
	if h.proxies != nil {
		out.Proxies = h.proxies.Snapshot()
	}
	response.RespondOK(c, out)
}
