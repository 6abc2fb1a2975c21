package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/stride-app/backend/internal/app/metrics"
	"github.com/stride-app/backend/internal/app/realtime"
	"github.com/stride-app/backend/internal/app/services/billing"
	"github.com/stride-app/backend/internal/app/services/chat"
	"github.com/stride-app/backend/internal/app/services/goals"
	"github.com/stride-app/backend/internal/app/services/streaks"
	"github.com/stride-app/backend/internal/app/services/tasks"
	"github.com/stride-app/backend/internal/app/services/users"
	"github.com/stride-app/backend/pkg/logger"
)

// Deps bundles the services and options the router serves.
type Deps struct {
	Users   *users.Service
	Goals   *goals.Service
	Tasks   *tasks.Service
	Streaks *streaks.Service
	Chats   *chat.Service
	Billing *billing.Service
	Hub     *realtime.Hub

	// Ping reports storage readiness. Nil means the in-memory store, which is
	// always ready.
	Ping func(ctx context.Context) error

	Log *logger.Logger

	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	// AdminToken guards the operational endpoints. Empty disables them.
	AdminToken string

	// AuditLogFile appends the audit trail as JSONL when set; the in-memory
	// ring is kept either way.
	AuditLogFile string
}

// NewRouter assembles the gin engine: middleware, public auth routes, the
// authenticated v1 API, and the ops endpoints.
func NewRouter(deps Deps) (*gin.Engine, error) {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	sink, err := newFileAuditSink(deps.AuditLogFile)
	if err != nil {
		return nil, err
	}
	h := &handler{
		users:   deps.Users,
		goals:   deps.Goals,
		tasks:   deps.Tasks,
		streaks: deps.Streaks,
		chats:   deps.Chats,
		billing: deps.Billing,
		hub:     deps.Hub,
		ping:    deps.Ping,
		origins: deps.AllowedOrigins,
		audit:   newAuditLog(0, sink),
		log:     log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(metrics.Middleware())
	if len(deps.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(deps.AllowedOrigins))
	}

	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")

	// Anonymous endpoints are limited by client IP, authenticated ones by
	// user, each with its own buckets.
	auth := v1.Group("/auth")
	if deps.RateLimitRPS > 0 {
		auth.Use(rateLimitMiddleware(deps.RateLimitRPS, deps.RateLimitBurst))
	}
	auth.POST("/register", h.register)
	auth.POST("/login", h.login)

	authed := v1.Group("")
	authed.Use(authRequired(deps.Users))
	if deps.RateLimitRPS > 0 {
		authed.Use(rateLimitMiddleware(deps.RateLimitRPS, deps.RateLimitBurst))
	}
	authed.Use(auditTrail(h.audit))
	{
		authed.GET("/me", h.me)
		authed.PATCH("/me", h.updateMe)
		authed.POST("/me/onboarding", h.completeOnboarding)

		authed.GET("/goals", h.listGoals)
		authed.POST("/goals", h.createGoal)
		authed.GET("/goals/:id", h.getGoal)
		authed.PATCH("/goals/:id", h.updateGoal)
		authed.DELETE("/goals/:id", h.deleteGoal)

		authed.GET("/tasks", h.listTasks)
		authed.POST("/tasks", h.createTask)
		authed.PATCH("/tasks/:id", h.updateTask)
		authed.DELETE("/tasks/:id", h.deleteTask)
		authed.POST("/tasks/:id/complete", h.completeTask)
		authed.POST("/tasks/:id/uncomplete", h.uncompleteTask)

		authed.GET("/streak", h.getStreak)

		authed.GET("/chats", h.listChats)
		authed.POST("/chats", h.createChat)
		authed.GET("/chats/quota", h.chatQuota)

		authed.POST("/billing/receipts", h.verifyReceipt)
		authed.GET("/billing/entitlement", h.entitlement)

		authed.GET("/realtime", h.realtime)
	}

	if deps.AdminToken != "" {
		admin := v1.Group("/admin")
		admin.Use(adminOnly(deps.AdminToken))
		admin.GET("/status", h.adminStatus)
		admin.GET("/audit", h.adminAudit)
	}

	return r, nil
}
