package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/storage/memory"
)

func newTestService() *Service {
	return New(memory.New(), "test-secret", time.Hour, "stride", nil)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	profile, err := svc.Register(ctx, "  Alice@Example.COM ", "hunter2hunter2", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if profile.ID == "" {
		t.Fatal("expected generated id")
	}
	if profile.Email != "alice@example.com" {
		t.Fatalf("email not normalised: %q", profile.Email)
	}
	if profile.Tier != user.TierFree {
		t.Fatalf("new users start free, got %s", profile.Tier)
	}
	if profile.PasswordHash == "hunter2hunter2" {
		t.Fatal("password stored in clear")
	}

	authed, token, err := svc.Authenticate(ctx, "alice@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if token == "" {
		t.Fatal("expected token")
	}
	if authed.ID != profile.ID {
		t.Fatalf("authenticated wrong profile: %s", authed.ID)
	}

	ident, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if ident.UserID != profile.ID || ident.Tier != user.TierFree {
		t.Fatalf("identity mismatch: %+v", ident)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "not-an-email", "hunter2hunter2", ""); err == nil {
		t.Fatal("expected invalid email to fail")
	}
	if _, err := svc.Register(ctx, "bob@example.com", "short", ""); err == nil {
		t.Fatal("expected short password to fail")
	}

	if _, err := svc.Register(ctx, "bob@example.com", "hunter2hunter2", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "BOB@example.com", "hunter2hunter2", ""); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "carol@example.com", "hunter2hunter2", "Carol"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Authenticate(ctx, "carol@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, "nobody@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email should not be distinguishable: %v", err)
	}
}

func TestVerifyTokenRejectsExpiredAndForeign(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	profile, err := svc.Register(ctx, "dave@example.com", "hunter2hunter2", "Dave")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, token, err := svc.Authenticate(ctx, "dave@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	// Shift the clock past the TTL.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
	svc.now = time.Now

	other := New(memory.New(), "different-secret", time.Hour, "stride", nil)
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token rejection, got %v", err)
	}

	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected garbage token rejection, got %v", err)
	}
	_ = profile
}

func TestOnboardingAndTier(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	profile, err := svc.Register(ctx, "erin@example.com", "hunter2hunter2", "Erin")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if profile.OnboardingDone {
		t.Fatal("onboarding should start incomplete")
	}

	done, err := svc.CompleteOnboarding(ctx, profile.ID, map[string]string{"focus": "fitness"})
	if err != nil {
		t.Fatalf("complete onboarding: %v", err)
	}
	if !done.OnboardingDone || done.Preferences["focus"] != "fitness" {
		t.Fatalf("onboarding state not applied: %+v", done)
	}

	// Second call is a no-op, not an error.
	if _, err := svc.CompleteOnboarding(ctx, profile.ID, nil); err != nil {
		t.Fatalf("repeat onboarding: %v", err)
	}

	upgraded, err := svc.SetTier(ctx, profile.ID, user.TierPremium)
	if err != nil {
		t.Fatalf("set tier: %v", err)
	}
	if upgraded.Tier != user.TierPremium {
		t.Fatalf("tier = %s, want premium", upgraded.Tier)
	}
	if _, err := svc.SetTier(ctx, profile.ID, user.Tier("gold")); err == nil {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	profile, err := svc.Register(ctx, "fay@example.com", "hunter2hunter2", "Fay")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	name := "Fay R."
	updated, err := svc.UpdateProfile(ctx, profile.ID, &name, map[string]string{"timezone": "UTC"})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.DisplayName != "Fay R." || updated.Preferences["timezone"] != "UTC" {
		t.Fatalf("update not applied: %+v", updated)
	}

	empty := "   "
	if _, err := svc.UpdateProfile(ctx, profile.ID, &empty, nil); err == nil {
		t.Fatal("expected empty display name to fail")
	}
}
