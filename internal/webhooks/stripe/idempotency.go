package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	eventScope      = "payment-events"
	claimedMarker   = "claimed"
	defaultClaimTTL = 24 * time.Hour
)

// EventGuard claims processor event ids so concurrent deliveries of the same
// event are handled once. Handlers stay idempotent regardless; the guard only
// spares the database the repeated work.
type EventGuard struct {
	store claimStore
	ttl   time.Duration
}

// claimStore is satisfied by *redis.Client.
type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

func NewEventGuard(store claimStore, ttl time.Duration) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = defaultClaimTTL
	}
	return &EventGuard{store: store, ttl: ttl}, nil
}

// Claim reports whether the caller now owns eventID. False means another
// delivery already claimed it.
func (g *EventGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	claimed, err := g.store.SetNX(ctx, g.key(eventID), claimedMarker, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return claimed, nil
}

// Release drops a claim after a failed attempt so the processor's retry is handled.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *EventGuard) key(eventID string) string {
	return g.store.IdempotencyKey(eventScope, eventID)
}
