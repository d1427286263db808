package main

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nixie-Tech-LLC/playout/internal/http/api"
	"github.com/Nixie-Tech-LLC/playout/internal/http/api/playout/endpoints"
	"github.com/Nixie-Tech-LLC/playout/internal/playout"
)

// RegisterRoutes sets up all application routes
func RegisterRoutes(r *gin.Engine, svc *playout.Service) {
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			"GET",
			"POST",
			"PUT",
			"DELETE",
			"OPTIONS",
			"HEAD",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"If-None-Match",
		},
		ExposeHeaders: []string{
			"Content-Length",
			"ETag",
		},
		AllowCredentials: false,
	}))

	api.MountGroup(r, api.GroupConfig{
		Prefix: "/api/v1",
	},
		endpoints.EventsModule(svc),
		endpoints.ScheduleModule(svc),
		endpoints.ToolsModule(svc),
		endpoints.PluginModule(svc),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(ctx *gin.Context) { ctx.String(200, "ok") })
}
