package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/app"
	iauth "github.com/duetapp/duet/internal/auth"
	"github.com/duetapp/duet/internal/handlers"
	"github.com/duetapp/duet/internal/middleware"
	"github.com/duetapp/duet/internal/notifications"
	"github.com/duetapp/duet/internal/services"
)

// Dependencies bundles everything the router needs. All fields except Hub are required.
type Dependencies struct {
	DB            *gorm.DB
	Config        *app.Config
	JWT           *iauth.JWTService
	Users         *services.UserService
	Pairing       *services.PairingService
	CheckIns      *services.CheckInService
	Goals         *services.GoalService
	Conflicts     *services.ConflictService
	Notifications *services.NotificationService
	Hub           *notifications.Hub
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Users == nil:
		return fmt.Errorf("user service must be provided")
	case d.Pairing == nil:
		return fmt.Errorf("pairing service must be provided")
	case d.CheckIns == nil:
		return fmt.Errorf("checkin service must be provided")
	case d.Goals == nil:
		return fmt.Errorf("goal service must be provided")
	case d.Conflicts == nil:
		return fmt.Errorf("conflict service must be provided")
	case d.Notifications == nil:
		return fmt.Errorf("notification service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(100, time.Minute))
	r.NoRoute(middleware.NotFoundHandler)

	// Health endpoint (public)
	r.GET("/health", handlers.Health(deps.DB))

	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.Users, deps.JWT)
	pairingHandler := handlers.NewPairingHandler(deps.Pairing)
	profileHandler := handlers.NewProfileHandler(deps.Users)
	checkInHandler := handlers.NewCheckInHandler(deps.CheckIns)
	goalHandler := handlers.NewGoalHandler(deps.Goals)
	conflictHandler := handlers.NewConflictHandler(deps.Conflicts)
	notificationHandler := handlers.NewNotificationHandler(deps.Notifications, deps.Hub)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	// Invitation preview is public so an invitee can see who invited them
	// before creating an account.
	r.GET("/api/pairing/invitations/:secret", pairingHandler.ValidateInvitation)

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	api.GET("/auth/me", authHandler.Me)

	pairing := api.Group("/pairing")
	{
		pairing.POST("/invitations/link", pairingHandler.CreateLinkInvitation)
		pairing.POST("/invitations/link/regenerate", pairingHandler.RegenerateLink)
		pairing.POST("/invitations/code", pairingHandler.CreateCodeInvitation)
		pairing.POST("/invitations/code/regenerate", pairingHandler.RegenerateCode)
		pairing.POST("/invitations/email", pairingHandler.CreateEmailInvitation)
		pairing.POST("/redeem", pairingHandler.Redeem)
		pairing.POST("/decline", pairingHandler.Decline)
		pairing.DELETE("/partner", pairingHandler.Unlink)
	}

	profile := api.Group("/profile")
	{
		profile.GET("", profileHandler.Get)
		profile.PATCH("", profileHandler.Update)
		profile.GET("/partner", profileHandler.Partner)
	}

	checkins := api.Group("/checkins")
	{
		checkins.GET("", checkInHandler.List)
		checkins.GET("/today", checkInHandler.Today)
		checkins.PUT("/today", checkInHandler.UpsertToday)
		checkins.GET("/streak", checkInHandler.Streak)
	}

	goals := api.Group("/goals")
	{
		goals.POST("", goalHandler.Create)
		goals.GET("", goalHandler.List)
		goals.GET("/:id", goalHandler.Get)
		goals.PATCH("/:id", goalHandler.Update)
		goals.PUT("/:id/progress", goalHandler.UpdateProgress)
		goals.POST("/:id/complete", goalHandler.Complete)
		goals.DELETE("/:id", goalHandler.Delete)
	}

	conflicts := api.Group("/conflicts")
	{
		conflicts.POST("", conflictHandler.Create)
		conflicts.GET("", conflictHandler.List)
		conflicts.GET("/:id", conflictHandler.Get)
		conflicts.POST("/:id/guidance", conflictHandler.RequestGuidance)
		conflicts.POST("/:id/resolve", conflictHandler.Resolve)
	}

	notificationGroup := api.Group("/notifications")
	{
		notificationGroup.GET("", notificationHandler.List)
		notificationGroup.POST("/read-all", notificationHandler.MarkAllRead)
		notificationGroup.POST("/:id/read", notificationHandler.MarkRead)
		notificationGroup.DELETE("/:id", notificationHandler.Delete)
		if deps.Hub != nil {
			notificationGroup.GET("/stream", notificationHandler.Stream)
		}
	}

	return r, nil
}
