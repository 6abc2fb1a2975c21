package billing

import "time"

const (
	EnvironmentProduction = "production"
	EnvironmentSandbox    = "sandbox"
)

// Subscription represents the latest verified auto-renewing purchase for a
// user. One row per user; re-verification updates it in place.
type Subscription struct {
	ID                    string
	UserID                string
	ProductID             string
	OriginalTransactionID string
	Environment           string
	Active                bool
	ExpiresAt             time.Time
	LastVerifiedAt        time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Verification is the outcome of one receipt verification call, already
// reduced to the fields the client needs.
type Verification struct {
	Status      int
	Message     string
	Active      bool
	ProductID   string
	ExpiresAt   time.Time
	Environment string
}

// Entitlement is the answer to "does this user have premium right now".
type Entitlement struct {
	Active    bool
	ProductID string
	ExpiresAt time.Time
}
