package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/hycredit/internal/app"
	iauth "github.com/charlesng35/hycredit/internal/auth"
	"github.com/charlesng35/hycredit/internal/handlers"
	"github.com/charlesng35/hycredit/internal/middleware"
	"github.com/charlesng35/hycredit/internal/permissions"
)

// NewRouter builds the Gin engine, wires middleware and registers the API routes.
func NewRouter(cfg *app.Config, jwt *iauth.JWTService, svc *Services) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if svc == nil {
		return nil, fmt.Errorf("services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.NoRoute(middleware.NotFoundHandler)

	r.GET("/health", handlers.Health(svc.Health))
	r.GET("/health/live", handlers.Live(svc.Health))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt), middleware.Identity(svc.Parties))

	registerPartyRoutes(api, handlers.NewPartyHandler(svc.Parties))
	registerRequestRoutes(api, handlers.NewRequestHandler(svc.Requests, svc.Reviews, cfg.Uploads.MaxFileBytes))
	registerCreditRoutes(api, handlers.NewCreditHandler(svc.Credits))

	audit := handlers.NewAuditHandler(svc.Audit)
	api.GET("/audit", middleware.RequireCapability(permissions.AuditView), audit.List)

	stats := handlers.NewStatisticsHandler(svc.Statistics)
	api.GET("/statistics", stats.Summary)

	if svc.Ledger != nil {
		registerLedgerRoutes(api, handlers.NewLedgerHandler(svc.Ledger))
	}

	return r, nil
}

func registerPartyRoutes(api *gin.RouterGroup, h *handlers.PartyHandler) {
	parties := api.Group("/parties")
	parties.GET("/me", h.Me)
	parties.GET("/certifiers", middleware.RequireCapability(permissions.RequestCreate), h.Certifiers)
}

func registerRequestRoutes(api *gin.RouterGroup, h *handlers.RequestHandler) {
	requests := api.Group("/requests")
	{
		requests.POST("", middleware.RequireCapability(permissions.RequestCreate), h.Create)
		requests.GET("", middleware.RequireCapability(permissions.RequestView), h.List)
		requests.GET("/pending", middleware.RequireCapability(permissions.RequestReview), h.Pending)
		requests.GET("/:id", middleware.RequireCapability(permissions.RequestView), h.Get)
		requests.GET("/:id/verify", middleware.RequireCapability(permissions.RequestView), h.Verify)
		requests.POST("/:id/documents/:slot", middleware.RequireCapability(permissions.RequestCreate), h.UploadDocument)
		requests.POST("/:id/approve", middleware.RequireCapability(permissions.RequestReview), h.Approve)
		requests.POST("/:id/reject", middleware.RequireCapability(permissions.RequestReview), h.Reject)
	}
}

func registerCreditRoutes(api *gin.RouterGroup, h *handlers.CreditHandler) {
	credits := api.Group("/credits")
	{
		credits.GET("", middleware.RequireCapability(permissions.CreditView), h.List)
		credits.GET("/:id", middleware.RequireCapability(permissions.CreditView), h.Get)
		credits.GET("/:id/history", middleware.RequireCapability(permissions.CreditView), h.History)
		credits.POST("/:id/transfer", middleware.RequireCapability(permissions.CreditTransfer), h.Transfer)
		credits.POST("/:id/retire", middleware.RequireCapability(permissions.CreditRetire), h.Retire)
	}
}

func registerLedgerRoutes(api *gin.RouterGroup, h *handlers.LedgerHandler) {
	api.POST("/ledger/confirmations", middleware.RequireCapability(permissions.LedgerConfirm), h.Confirm)
	api.POST("/requests/:id/ledger/resubmit", middleware.RequireCapability(permissions.LedgerRemediate), h.Resubmit)
}
