// Package app composes the Stride backend into a running application.
//
// # Architecture Role
//
// The app package sits above the platform layers (config, cache, migrations)
// and wires the domain services into one lifecycle-managed unit. It is NOT a
// business logic layer; business rules live in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── user/           # Profiles and subscription tiers
//	│   ├── goal/           # Goals
//	│   ├── task/           # Scheduled tasks and day arithmetic
//	│   ├── streak/         # Streak counters
//	│   ├── chat/           # Coach conversations and quotas
//	│   └── billing/        # Subscriptions and entitlements
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # ProfileStore, TaskStore, ChatStore, ...
//	│   ├── memory/         # In-memory implementation for tests
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic (users, goals, tasks, streaks,
//	│                       # chat, planner, billing)
//	├── httpapi/            # Gin handlers, middleware, and routing
//	├── jobs/               # Cron-driven maintenance (purge, rollover)
//	├── realtime/           # Websocket hub pushing events to clients
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service lifecycle management
//
// # Responsibilities
//
//   - Composing services with their stores and optional infrastructure
//   - Defaulting absent stores to the in-memory implementation
//   - Degrading gracefully when Redis or the AI planner is not configured
//   - Registering background services (hub, sweeper, scheduler) with the
//     lifecycle manager
//
// Request handling belongs in internal/app/httpapi, persistence in
// internal/app/storage, and process bootstrap in internal/app/runtime.
package app
