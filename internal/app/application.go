package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stride-app/backend/internal/app/jobs"
	"github.com/stride-app/backend/internal/app/realtime"
	billingsvc "github.com/stride-app/backend/internal/app/services/billing"
	chatsvc "github.com/stride-app/backend/internal/app/services/chat"
	"github.com/stride-app/backend/internal/app/services/goals"
	"github.com/stride-app/backend/internal/app/services/planner"
	"github.com/stride-app/backend/internal/app/services/streaks"
	"github.com/stride-app/backend/internal/app/services/tasks"
	"github.com/stride-app/backend/internal/app/services/users"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/internal/app/storage/memory"
	"github.com/stride-app/backend/internal/app/system"
	"github.com/stride-app/backend/internal/config"
	"github.com/stride-app/backend/internal/platform/cache"
	"github.com/stride-app/backend/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Profiles      storage.ProfileStore
	Goals         storage.GoalStore
	Tasks         storage.TaskStore
	Streaks       storage.StreakStore
	Chats         storage.ChatStore
	Subscriptions storage.SubscriptionStore
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	cache   *cache.Cache
	log     *logger.Logger

	Users   *users.Service
	Goals   *goals.Service
	Tasks   *tasks.Service
	Streaks *streaks.Service
	Chats   *chatsvc.Service
	Billing *billingsvc.Service
	Hub     *realtime.Hub
}

// New builds a fully initialised application with the provided stores.
// Optional infrastructure that is not configured or not reachable is logged
// and skipped rather than treated as fatal.
func New(stores Stores, cfg config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Profiles == nil {
		stores.Profiles = mem
	}
	if stores.Goals == nil {
		stores.Goals = mem
	}
	if stores.Tasks == nil {
		stores.Tasks = mem
	}
	if stores.Streaks == nil {
		stores.Streaks = mem
	}
	if stores.Chats == nil {
		stores.Chats = mem
	}
	if stores.Subscriptions == nil {
		stores.Subscriptions = mem
	}

	manager := system.NewManager()

	usersSvc := users.New(stores.Profiles, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer, log)
	goalsSvc := goals.New(stores.Goals, log)
	tasksSvc := tasks.New(stores.Tasks, stores.Goals, log)
	streaksSvc := streaks.New(stores.Streaks, stores.Tasks, log)

	var plan *planner.Service
	if cfg.AI.APIKey != "" {
		client := planner.NewClient(
			&http.Client{Timeout: cfg.AI.Timeout},
			cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.MaxAttempts,
			log,
		)
		plan = planner.New(client, log)
	} else {
		log.Warn("STRIDE_AI_API_KEY not set; chat replies use the static planner")
		plan = planner.New(planner.NewStaticPlanner(log), log)
	}
	chatsSvc := chatsvc.New(stores.Chats, stores.Profiles, stores.Goals, plan, cfg.AI.Model, log)

	if cfg.Billing.AppleSharedSecret == "" {
		log.Warn("STRIDE_BILLING_APPLE_SHARED_SECRET not set; the App Store will reject receipts")
	}
	verifier := billingsvc.NewAppleClient(
		&http.Client{Timeout: cfg.Billing.VerifyTimeout},
		cfg.Billing.AppleProductionURL, cfg.Billing.AppleSandboxURL, cfg.Billing.AppleSharedSecret,
		log,
	)
	billingSvc := billingsvc.New(stores.Subscriptions, usersSvc, verifier, log)

	hub := realtime.NewHub(log)
	tasksSvc.AttachStreaks(streaksSvc)
	tasksSvc.AttachHub(hub)
	billingSvc.AttachHub(hub)

	var redisCache *cache.Cache
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unavailable; quota and entitlement caching disabled")
		} else {
			redisCache = c
			chatsSvc.AttachCache(c)
			billingSvc.AttachCache(c)
		}
	}

	sweeper := billingsvc.NewSweeper(billingSvc, cfg.Billing.SweepInterval, cfg.Billing.SweepLookahead, log)
	// The sweeper owns subscription settling, so the cron scheduler only runs
	// the chat purge and the streak rollover.
	scheduler := jobs.NewScheduler(chatsSvc, streaksSvc, nil, log)

	for _, svc := range []system.Service{hub, sweeper, scheduler} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		cache:   redisCache,
		log:     log,
		Users:   usersSvc,
		Goals:   goalsSvc,
		Tasks:   tasksSvc,
		Streaks: streaksSvc,
		Chats:   chatsSvc,
		Billing: billingSvc,
		Hub:     hub,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases held connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.cache != nil {
		if cerr := a.cache.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("close redis")
		}
	}
	return err
}
