package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/andrewdyar/switchyard-sub001/internal/http/handlers"
	httpMW "github.com/andrewdyar/switchyard-sub001/internal/http/middleware"
	"github.com/andrewdyar/switchyard-sub001/internal/observability"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type RouterConfig struct {
	Log           *logger.Logger
	ServiceName   string
	HealthHandler *httpH.HealthHandler
	StatusHandler *httpH.StatusHandler
	Metrics       *observability.Metrics
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	service := cfg.ServiceName
	if service == "" {
		service = "ingest"
	}
	r.Use(otelgin.Middleware(service))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.StatusHandler != nil {
		r.GET("/stats", cfg.StatusHandler.Stats)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}
	return r
}
