package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stride-app/backend/internal/app/domain/billing"
	"github.com/stride-app/backend/internal/app/domain/user"
	"github.com/stride-app/backend/internal/app/realtime"
	"github.com/stride-app/backend/internal/app/services/users"
	"github.com/stride-app/backend/internal/app/storage"
	"github.com/stride-app/backend/internal/platform/cache"
	"github.com/stride-app/backend/pkg/logger"
)

const (
	entitlementKeyPrefix = "stride:billing:ent:"
	entitlementCacheTTL  = time.Minute
)

// Service verifies purchases and answers entitlement checks. A valid active
// receipt grants the premium tier; expiry takes it back.
type Service struct {
	subs     storage.SubscriptionStore
	users    *users.Service
	verifier ReceiptVerifier
	cache    *cache.Cache
	hub      *realtime.Hub
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a billing service.
func New(subs storage.SubscriptionStore, usersSvc *users.Service, verifier ReceiptVerifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("billing")
	}
	return &Service{
		subs:     subs,
		users:    usersSvc,
		verifier: verifier,
		log:      log,
		now:      time.Now,
	}
}

// AttachCache wires an optional entitlement cache.
func (s *Service) AttachCache(c *cache.Cache) { s.cache = c }

// AttachHub wires entitlement change events into the realtime hub.
func (s *Service) AttachHub(h *realtime.Hub) { s.hub = h }

// VerifyReceipt checks a receipt with the App Store and applies the outcome.
// A transport or HTTP failure returns an error. An App Store rejection is not
// an error: the Verification carries the status and its description, with
// Active false.
func (s *Service) VerifyReceipt(ctx context.Context, userID, receiptData string) (billing.Verification, error) {
	receiptData = strings.TrimSpace(receiptData)
	if receiptData == "" {
		return billing.Verification{}, fmt.Errorf("receipt data is required")
	}

	rcpt, err := s.verifier.Verify(ctx, receiptData)
	if err != nil {
		return billing.Verification{}, fmt.Errorf("app store verification: %w", err)
	}

	if rcpt.Status != statusValid {
		s.log.WithField("user_id", userID).
			WithField("status", rcpt.Status).
			Info("receipt rejected by the app store")
		return billing.Verification{
			Status:      rcpt.Status,
			Message:     StatusMessage(rcpt.Status),
			Active:      false,
			Environment: rcpt.Environment,
		}, nil
	}

	now := s.now().UTC()
	active := rcpt.ExpiresAt.After(now)

	sub := billing.Subscription{
		UserID:                userID,
		ProductID:             rcpt.ProductID,
		OriginalTransactionID: rcpt.OriginalTransactionID,
		Environment:           rcpt.Environment,
		Active:                active,
		ExpiresAt:             rcpt.ExpiresAt,
		LastVerifiedAt:        now,
	}
	if _, err := s.subs.UpsertSubscription(ctx, sub); err != nil {
		return billing.Verification{}, fmt.Errorf("store subscription: %w", err)
	}

	if err := s.syncTier(ctx, userID, active); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("sync tier after verification")
	}
	s.invalidateEntitlement(ctx, userID)

	s.log.WithField("user_id", userID).
		WithField("product_id", rcpt.ProductID).
		WithField("environment", rcpt.Environment).
		WithField("active", active).
		WithField("expires_at", rcpt.ExpiresAt.Format(time.RFC3339)).
		Info("receipt verified")

	return billing.Verification{
		Status:      statusValid,
		Message:     StatusMessage(statusValid),
		Active:      active,
		ProductID:   rcpt.ProductID,
		ExpiresAt:   rcpt.ExpiresAt,
		Environment: rcpt.Environment,
	}, nil
}

// syncTier keeps the profile tier in line with the subscription state. Family
// tier is managed elsewhere and never touched here.
func (s *Service) syncTier(ctx context.Context, userID string, active bool) error {
	if s.users == nil {
		return nil
	}
	profile, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	var target user.Tier
	switch {
	case active && profile.Tier == user.TierFree:
		target = user.TierPremium
	case !active && profile.Tier == user.TierPremium:
		target = user.TierFree
	default:
		return nil
	}

	if _, err := s.users.SetTier(ctx, userID, target); err != nil {
		return err
	}
	s.hub.Broadcast(userID, realtime.Event{
		Type: realtime.EventEntitlementChanged,
		Data: map[string]any{"tier": string(target), "active": active},
	})
	return nil
}

// Entitlement reports whether the user holds an active subscription. Answers
// are cached briefly when a cache is attached.
func (s *Service) Entitlement(ctx context.Context, userID string) (billing.Entitlement, error) {
	key := entitlementKeyPrefix + userID
	if cached, hit, err := s.cache.Get(ctx, key); err == nil && hit {
		var ent billing.Entitlement
		if json.Unmarshal([]byte(cached), &ent) == nil {
			return ent, nil
		}
	}

	sub, err := s.subs.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return billing.Entitlement{}, nil
		}
		return billing.Entitlement{}, err
	}

	ent := billing.Entitlement{
		Active:    sub.ExpiresAt.After(s.now().UTC()),
		ProductID: sub.ProductID,
		ExpiresAt: sub.ExpiresAt,
	}
	if encoded, err := json.Marshal(ent); err == nil {
		if err := s.cache.Set(ctx, key, string(encoded), entitlementCacheTTL); err != nil {
			s.log.WithError(err).Debug("cache entitlement")
		}
	}
	return ent, nil
}

func (s *Service) invalidateEntitlement(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, entitlementKeyPrefix+userID); err != nil {
		s.log.WithError(err).Debug("invalidate entitlement cache")
	}
}

// SettleLapsed deactivates subscriptions whose expiry has passed, downgrading
// the owner and announcing the change. before bounds the scan window; the
// caller passes now plus its lookahead.
func (s *Service) SettleLapsed(ctx context.Context, before time.Time) (int, error) {
	subs, err := s.subs.ListSubscriptionsExpiring(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("list expiring subscriptions: %w", err)
	}

	now := s.now().UTC()
	settled := 0
	for _, sub := range subs {
		if sub.ExpiresAt.After(now) {
			// Expiring soon but still active.
			continue
		}

		sub.Active = false
		sub.LastVerifiedAt = now
		if _, err := s.subs.UpsertSubscription(ctx, sub); err != nil {
			return settled, fmt.Errorf("deactivate subscription %s: %w", sub.ID, err)
		}
		if err := s.syncTier(ctx, sub.UserID, false); err != nil {
			s.log.WithError(err).WithField("user_id", sub.UserID).Warn("sync tier after expiry")
		}
		s.invalidateEntitlement(ctx, sub.UserID)
		settled++

		s.log.WithField("user_id", sub.UserID).
			WithField("expired_at", sub.ExpiresAt.Format(time.RFC3339)).
			Info("subscription lapsed")
	}
	return settled, nil
}
