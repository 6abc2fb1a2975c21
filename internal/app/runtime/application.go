package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/stride-app/backend/internal/app"
	"github.com/stride-app/backend/internal/app/httpapi"
	"github.com/stride-app/backend/internal/app/storage/postgres"
	"github.com/stride-app/backend/internal/config"
	"github.com/stride-app/backend/internal/platform/migrations"
	"github.com/stride-app/backend/pkg/logger"
)

// Application wires configuration, storage, services, and the HTTP server
// into one runnable process.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server
	db     *sqlx.DB
}

// NewApplication constructs a new application instance with default wiring.
// Without a database DSN the process runs on the in-memory store, which suits
// local development only.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	var (
		stores app.Stores
		db     *sqlx.DB
		ping   func(ctx context.Context) error
	)
	if cfg.Database.DSN != "" {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := migrations.Apply(db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		store := postgres.New(db)
		stores = app.Stores{
			Profiles:      store,
			Goals:         store,
			Tasks:         store,
			Streaks:       store,
			Chats:         store,
			Subscriptions: store,
		}
		ping = db.PingContext
		log.WithField("driver", cfg.Database.Driver).Info("database connected")
	} else {
		log.Warn("STRIDE_DB_DSN not set; using the in-memory store")
	}

	application, err := app.New(stores, *cfg, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build application: %w", err)
	}

	var rps float64
	var burst int
	if cfg.RateLimit.Enabled {
		rps = cfg.RateLimit.RequestsPerSecond
		burst = cfg.RateLimit.Burst
	}
	router, err := httpapi.NewRouter(httpapi.Deps{
		Users:          application.Users,
		Goals:          application.Goals,
		Tasks:          application.Tasks,
		Streaks:        application.Streaks,
		Chats:          application.Chats,
		Billing:        application.Billing,
		Hub:            application.Hub,
		Ping:           ping,
		Log:            log,
		AllowedOrigins: cfg.Server.Origins(),
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		AdminToken:     cfg.Auth.AdminToken,
		AuditLogFile:   cfg.Audit.LogFile,
	})
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build router: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		app:    application,
		server: server,
		db:     db,
	}, nil
}

// Run starts the background services and the HTTP server, then blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).Info("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains the HTTP server, stops the background services, and closes
// the database.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
