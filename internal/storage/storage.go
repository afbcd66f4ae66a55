// Package storage persists the small set of client-side keys a visitor keeps
// between page loads: credential, fingerprint and the pending payment marker.
package storage

import "context"

// Keys persisted per visitor
const (
	KeyAuthToken                = "auth_token"
	KeyOAuthSessionToken        = "oauth_session_token" // legacy, read once on hydrate
	KeyAuthType                 = "auth_type"
	KeyBrowserFingerprint       = "browser_fingerprint"
	KeyPendingSubscriptionID    = "pending_subscription_id"
	KeyLastPaymentTime          = "last_payment_time"
	KeySubscriptionCheckRetries = "subscription_check_retries"
)

// Store is a string key/value store. Concurrent writers are last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Namespaced scopes every key of a shared store under one visitor.
type Namespaced struct {
	store  Store
	prefix string
}

// Namespace returns a view of store whose keys are prefixed with ns.
func Namespace(store Store, ns string) *Namespaced {
	return &Namespaced{store: store, prefix: ns + ":"}
}

func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.store.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	return n.store.Set(ctx, n.prefix+key, value)
}

func (n *Namespaced) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = n.prefix + k
	}
	return n.store.Delete(ctx, prefixed...)
}
