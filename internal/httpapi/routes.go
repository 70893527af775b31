package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the versioned API on r.
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	consultations := r.Group("/consultations")
	consultations.POST("", h.HandleStart)
	consultations.POST("/:id/answer", h.HandleAnswer)
	consultations.POST("/:id/back", h.HandleBack)
	consultations.GET("/:id/visualization", h.HandleVisualization)
	consultations.GET("/:id/explain", h.HandleExplain)
	consultations.DELETE("/:id", h.HandleEnd)

	domains := r.Group("/domains")
	domains.GET("", h.HandleDomains)
	domains.GET("/:domain/validation", h.HandleValidation)
	domains.POST("/:domain/validation", h.HandleValidate)
	domains.POST("/:domain/reload", h.HandleReload)
}

// NewRouter builds the full HTTP surface: /v1 API, health and metrics. A nil
// gatherer leaves /metrics unmounted.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.HandleHealth)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}
