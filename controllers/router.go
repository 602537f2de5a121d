package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"byteme/middlewares"
)

// Registrar adds a service's routes.
type Registrar interface {
	Register(r gin.IRouter)
}

// NewRouter builds the engine every service runs: request logging,
// recovery, metrics and CORS, plus /health and /metrics.
func NewRouter(health Health, logger *zap.Logger, controllers ...Registrar) *gin.Engine {
	r := gin.New()
	r.Use(
		middlewares.RequestLogger(logger),
		middlewares.Recovery(logger),
		middlewares.PrometheusMiddleware(health.Service),
		middlewares.CORSMiddleware(),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", health.Handle)

	for _, ctrl := range controllers {
		ctrl.Register(r)
	}
	return r
}
