// Package payment follows a visitor through external checkout: it leaves a
// Pending Payment Marker before the redirect and confirms the subscription
// once the visitor comes back.
package payment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

// Marker ties the visitor to one in-flight checkout.
type Marker struct {
	SubscriptionID string    `json:"subscription_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the marker is older than ttl at now.
func (m Marker) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.CreatedAt) > ttl
}

// MarkerStore persists the single live marker and its attempt counter.
// Expiry is only checked when the marker is read.
type MarkerStore struct {
	store storage.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewMarkerStore(store storage.Store, ttl time.Duration) *MarkerStore {
	return &MarkerStore{store: store, ttl: ttl, now: time.Now}
}

// Put writes a new marker, replacing any previous one and its attempt count.
func (s *MarkerStore) Put(ctx context.Context, subscriptionID string) (Marker, error) {
	m := Marker{SubscriptionID: subscriptionID, CreatedAt: s.now()}
	if err := s.store.Delete(ctx, storage.KeySubscriptionCheckRetries); err != nil {
		return Marker{}, fmt.Errorf("reset attempts: %w", err)
	}
	if err := s.store.Set(ctx, storage.KeyPendingSubscriptionID, subscriptionID); err != nil {
		return Marker{}, fmt.Errorf("write marker: %w", err)
	}
	ts := strconv.FormatInt(m.CreatedAt.UnixMilli(), 10)
	if err := s.store.Set(ctx, storage.KeyLastPaymentTime, ts); err != nil {
		return Marker{}, fmt.Errorf("write marker time: %w", err)
	}
	return m, nil
}

// Inspect returns the live marker. An expired marker, or one whose creation
// time is missing or unreadable, is deleted and reported absent.
func (s *MarkerStore) Inspect(ctx context.Context) (Marker, bool, error) {
	id, ok, err := s.store.Get(ctx, storage.KeyPendingSubscriptionID)
	if err != nil {
		return Marker{}, false, fmt.Errorf("read marker: %w", err)
	}
	if !ok || id == "" {
		return Marker{}, false, nil
	}

	raw, ok, err := s.store.Get(ctx, storage.KeyLastPaymentTime)
	if err != nil {
		return Marker{}, false, fmt.Errorf("read marker time: %w", err)
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if !ok || perr != nil {
		return Marker{}, false, s.Consume(ctx)
	}

	m := Marker{SubscriptionID: id, CreatedAt: time.UnixMilli(ms)}
	if m.Expired(s.now(), s.ttl) {
		return Marker{}, false, s.Consume(ctx)
	}
	return m, true, nil
}

// Consume deletes the marker and its attempt counter.
func (s *MarkerStore) Consume(ctx context.Context) error {
	err := s.store.Delete(ctx,
		storage.KeyPendingSubscriptionID,
		storage.KeyLastPaymentTime,
		storage.KeySubscriptionCheckRetries,
	)
	if err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	return nil
}

// Attempts returns the number of status requests made for the live marker.
func (s *MarkerStore) Attempts(ctx context.Context) (int, error) {
	raw, ok, err := s.store.Get(ctx, storage.KeySubscriptionCheckRetries)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// IncrementAttempts bumps the persisted counter and returns the new value.
func (s *MarkerStore) IncrementAttempts(ctx context.Context) (int, error) {
	n, err := s.Attempts(ctx)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.store.Set(ctx, storage.KeySubscriptionCheckRetries, strconv.Itoa(n)); err != nil {
		return 0, fmt.Errorf("write attempts: %w", err)
	}
	return n, nil
}
