package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register mounts the API on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	sessions := r.Group("/sessions")
	sessions.POST("", h.OpenSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.DestroySession)
	sessions.POST("/:id/ready", h.AwaitReady)
	sessions.POST("/:id/call", h.Call)
	sessions.GET("/:id/properties/:name", h.GetProperty)
	sessions.PUT("/:id/properties/:name", h.SetProperty)
	sessions.GET("/:id/events/:event", h.StreamEvents)
}
