package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/pkg/logger"
)

// ErrInvalidCredentials is returned when the email or password does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = errors.New("email already registered")

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

const minPasswordLength = 8

// Identity is the authenticated caller extracted from a bearer token.
type Identity struct {
	UserID string
	Email  string
	Tier   user.Tier
}

// Service manages registration, authentication and profile state.
type Service struct {
	store  storage.ProfileStore
	secret []byte
	ttl    time.Duration
	issuer string
	log    *logger.Logger
	now    func() time.Time
}

// New constructs a users service. The secret signs session tokens.
func New(store storage.ProfileStore, secret string, tokenTTL time.Duration, issuer string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if issuer == "" {
		issuer = "stride"
	}
	return &Service{
		store:  store,
		secret: []byte(secret),
		ttl:    tokenTTL,
		issuer: issuer,
		log:    log,
		now:    time.Now,
	}
}

// Register creates a free-tier profile with a hashed password.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (user.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)

	if email == "" || !strings.Contains(email, "@") {
		return user.Profile{}, fmt.Errorf("a valid email is required")
	}
	if len(password) < minPasswordLength {
		return user.Profile{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.Profile{}, fmt.Errorf("hash password: %w", err)
	}

	profile := user.Profile{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Tier:         user.TierFree,
	}
	profile, err = s.store.CreateProfile(ctx, profile)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return user.Profile{}, ErrEmailTaken
		}
		return user.Profile{}, err
	}

	s.log.WithField("user_id", profile.ID).
		WithField("email", profile.Email).
		Info("user registered")
	return profile, nil
}

// Authenticate checks credentials and returns the profile plus a signed token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.Profile, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	profile, err := s.store.GetProfileByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.Profile{}, "", ErrInvalidCredentials
		}
		return user.Profile{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return user.Profile{}, "", ErrInvalidCredentials
	}

	token, err := s.IssueToken(profile)
	if err != nil {
		return user.Profile{}, "", fmt.Errorf("issue token: %w", err)
	}

	s.log.WithField("user_id", profile.ID).Info("user authenticated")
	return profile, token, nil
}

// IssueToken signs a bearer token for an already-authenticated profile.
func (s *Service) IssueToken(p user.Profile) (string, error) {
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"sub":   p.ID,
		"email": p.Email,
		"tier":  string(p.Tier),
		"iss":   s.issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken validates a bearer token and returns the caller identity.
func (s *Service) VerifyToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	tier, _ := claims["tier"].(string)

	return Identity{UserID: sub, Email: email, Tier: user.Tier(tier)}, nil
}

// Get returns a profile by ID.
func (s *Service) Get(ctx context.Context, id string) (user.Profile, error) {
	return s.store.GetProfile(ctx, id)
}

// List returns all profiles.
func (s *Service) List(ctx context.Context) ([]user.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// UpdateProfile applies the supplied changes. Nil fields are left alone.
func (s *Service) UpdateProfile(ctx context.Context, id string, displayName *string, preferences map[string]string) (user.Profile, error) {
	profile, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return user.Profile{}, err
	}

	if displayName != nil {
		trimmed := strings.TrimSpace(*displayName)
		if trimmed == "" {
			return user.Profile{}, fmt.Errorf("display_name cannot be empty")
		}
		profile.DisplayName = trimmed
	}
	if preferences != nil {
		profile.Preferences = preferences
	}

	profile, err = s.store.UpdateProfile(ctx, profile)
	if err != nil {
		return user.Profile{}, err
	}
	s.log.WithField("user_id", profile.ID).Info("profile updated")
	return profile, nil
}

// CompleteOnboarding marks onboarding done and stores any collected
// preferences. Calling it twice is harmless.
func (s *Service) CompleteOnboarding(ctx context.Context, id string, preferences map[string]string) (user.Profile, error) {
	profile, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return user.Profile{}, err
	}
	if profile.OnboardingDone && preferences == nil {
		return profile, nil
	}

	profile.OnboardingDone = true
	if preferences != nil {
		if profile.Preferences == nil {
			profile.Preferences = make(map[string]string, len(preferences))
		}
		for k, v := range preferences {
			profile.Preferences[k] = v
		}
	}

	profile, err = s.store.UpdateProfile(ctx, profile)
	if err != nil {
		return user.Profile{}, err
	}
	s.log.WithField("user_id", profile.ID).Info("onboarding completed")
	return profile, nil
}

// SetTier changes the subscription tier. Billing calls this after a verified
// purchase or expiry.
func (s *Service) SetTier(ctx context.Context, id string, tier user.Tier) (user.Profile, error) {
	if !tier.Valid() {
		return user.Profile{}, fmt.Errorf("unknown tier %q", tier)
	}

	profile, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return user.Profile{}, err
	}
	if profile.Tier == tier {
		return profile, nil
	}

	profile.Tier = tier
	profile, err = s.store.UpdateProfile(ctx, profile)
	if err != nil {
		return user.Profile{}, err
	}
	s.log.WithField("user_id", profile.ID).
		WithField("tier", string(tier)).
		Info("tier changed")
	return profile, nil
}

// Delete removes a profile.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteProfile(ctx, id); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("profile deleted")
	return nil
}
