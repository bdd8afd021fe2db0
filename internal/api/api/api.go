package api

import (
	"github.com/gin-contrib/cors"
	"github.com/wb-go/wbf/ginext"

	"runcrew/cmd/middleware"
	"runcrew/internal/auth"
	"runcrew/internal/service"
)

type Routers struct {
	Service   service.Service
	Auth      *auth.Manager
	ImagesDir string
}

func NewRouters(r *Routers) *ginext.Engine {
	app := ginext.New("release")

	app.Use(middleware.LoggingMiddleware())
	app.Use(cors.Default())

	apiGroup := app.Group("/v1")

	apiGroup.GET("/sessions", r.Service.ListSessions)
	apiGroup.GET("/sessions/:id", r.Service.GetSession)
	apiGroup.POST("/sessions/:id/register", r.Service.Register)
	apiGroup.POST("/sessions/:id/waitlist", r.Service.JoinWaitlist)

	adminGroup := apiGroup.Group("/admin")
	adminGroup.POST("/login", r.Service.Login)

	protected := adminGroup.Group("")
	protected.Use(r.Auth.Middleware())

	protected.GET("/sessions", r.Service.ListAllSessions)
	protected.POST("/sessions", r.Service.CreateSession)
	protected.PUT("/sessions/:id", r.Service.UpdateSession)
	protected.DELETE("/sessions/:id", r.Service.DeleteSession)
	protected.POST("/sessions/:id/image", r.Service.UploadSessionImage)

	protected.GET("/participants", r.Service.ListParticipants)
	protected.GET("/participants/:id", r.Service.GetParticipant)
	protected.DELETE("/participants/:id", r.Service.DeleteParticipant)

	protected.GET("/waitlist", r.Service.ListWaitlist)
	protected.DELETE("/waitlist/:id", r.Service.DeleteWaitlistEntry)

	protected.GET("/export", r.Service.ExportRoster)

	// Session cover images are plain files served from disk.
	app.Static("/images", r.ImagesDir)

	return app
}
