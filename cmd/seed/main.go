// Package main seeds a demo user with goals, a week of tasks, and a running
// streak. It writes through the service layer so every rule that guards the
// API also guards the seed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/stride-app/backend/internal/app"
	"github.com/stride-app/backend/internal/app/storage/postgres"
	"github.com/stride-app/backend/internal/config"
	"github.com/stride-app/backend/internal/platform/migrations"
	"github.com/stride-app/backend/pkg/logger"
)

func main() {
	var (
		email    = flag.String("email", "demo@stride.app", "Email of the demo user")
		password = flag.String("password", "stride-demo", "Password of the demo user")
		name     = flag.String("name", "Demo Runner", "Display name of the demo user")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var stores app.Stores
	if cfg.Database.DSN != "" {
		db, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()
		if err := migrations.Apply(db.DB); err != nil {
			log.Fatalf("apply migrations: %v", err)
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
	} else {
		log.Println("STRIDE_DB_DSN not set; seeding the in-memory store is a dry run")
	}

	quiet := logger.New(logger.LoggingConfig{Level: "warn", Format: "text", Output: "stdout"})
	application, err := app.New(stores, *cfg, quiet)
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	ctx := context.Background()

	profile, err := application.Users.Register(ctx, *email, *password, *name)
	if err != nil {
		log.Fatalf("register %s: %v", *email, err)
	}
	if _, err := application.Users.CompleteOnboarding(ctx, profile.ID, map[string]string{
		"reminder": "evening",
		"focus":    "fitness",
	}); err != nil {
		log.Fatalf("complete onboarding: %v", err)
	}

	run, err := application.Goals.Create(ctx, profile.ID, "Run a 10k", "Build up from 3km to race distance.", "fitness", nil)
	if err != nil {
		log.Fatalf("create goal: %v", err)
	}
	read, err := application.Goals.Create(ctx, profile.ID, "Read 12 books this year", "", "learning", nil)
	if err != nil {
		log.Fatalf("create goal: %v", err)
	}

	today := time.Now().UTC()
	tasksCreated := 0
	tasksCompleted := 0
	for offset := -3; offset <= 3; offset++ {
		day := today.AddDate(0, 0, offset)

		goalID := run.ID
		title := fmt.Sprintf("Run %dkm", 3+(offset+3)%3)
		if (offset+3)%2 == 1 {
			goalID = read.ID
			title = "Read 20 pages"
		}

		created, err := application.Tasks.Create(ctx, profile.ID, goalID, title, "", day)
		if err != nil {
			log.Fatalf("create task for %s: %v", day.Format("2006-01-02"), err)
		}
		tasksCreated++

		// Completing past days in order builds a streak that ends today.
		if offset <= 0 {
			if _, err := application.Tasks.Complete(ctx, profile.ID, created.ID); err != nil {
				log.Fatalf("complete task for %s: %v", day.Format("2006-01-02"), err)
			}
			tasksCompleted++
		}
	}

	if _, _, err := application.Chats.Create(ctx, profile.ID, run.ID, "How should I split my runs this week?"); err != nil {
		log.Fatalf("create chat: %v", err)
	}

	streak, err := application.Streaks.Get(ctx, profile.ID)
	if err != nil {
		log.Fatalf("get streak: %v", err)
	}

	fmt.Printf("Seeded %s: %d goals, %d tasks (%d completed), streak %d, 1 chat\n",
		*email, 2, tasksCreated, tasksCompleted, streak.Current)
}
