package user

import "time"

// Tier identifies the subscription level granted to a profile.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierFamily  Tier = "family"
)

// Unlimited reports whether the tier bypasses weekly chat quotas.
func (t Tier) Unlimited() bool {
	return t == TierPremium || t == TierFamily
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierFamily:
		return true
	}
	return false
}

// Profile represents a registered user of the app.
type Profile struct {
	ID             string
	Email          string
	DisplayName    string
	PasswordHash   string
	Tier           Tier
	OnboardingDone bool
	Preferences    map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
