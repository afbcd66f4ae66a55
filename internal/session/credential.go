// Package session owns the visitor's Session Credential and the auth flows
// that create and destroy it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

// ErrNoCredential is returned when an operation needs a signed-in visitor.
var ErrNoCredential = errors.New("no session credential")

type Kind string

const (
	KindJWT   Kind = "jwt"
	KindOAuth Kind = "oauth"
)

// Credential is the single active bearer credential of a visitor.
// An oauth credential with an empty token rides on the backend session cookie.
type Credential struct {
	Kind  Kind
	Token string
}

// Bearer returns the value for the Authorization header, or "" to fall back to cookies.
func (c Credential) Bearer() string {
	return c.Token
}

// Expired reports whether a JWT carries an exp claim in the past.
// OAuth session tokens are opaque and only the backend can judge them.
func (c Credential) Expired(now time.Time) bool {
	if c.Kind != KindJWT {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}

// Holder keeps the active credential in memory and in visitor storage.
// Only Auth writes through it.
type Holder struct {
	store storage.Store
	now   func() time.Time

	mu   sync.RWMutex
	cred *Credential
}

func NewHolder(store storage.Store) *Holder {
	return &Holder{store: store, now: time.Now}
}

// Current returns the active credential. An expired JWT counts as absent.
func (h *Holder) Current() (Credential, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cred == nil || h.cred.Expired(h.now()) {
		return Credential{}, false
	}
	return *h.cred, true
}

// Token returns the bearer token of the active credential and whether one is held.
func (h *Holder) Token() (string, bool) {
	c, ok := h.Current()
	return c.Bearer(), ok
}

// Authenticated reports whether a credential is held.
func (h *Holder) Authenticated() bool {
	_, ok := h.Current()
	return ok
}

func (h *Holder) set(ctx context.Context, c Credential) error {
	if c.Token != "" {
		if err := h.store.Set(ctx, storage.KeyAuthToken, c.Token); err != nil {
			return fmt.Errorf("persist credential: %w", err)
		}
	} else if err := h.store.Delete(ctx, storage.KeyAuthToken); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	if err := h.store.Set(ctx, storage.KeyAuthType, string(c.Kind)); err != nil {
		return fmt.Errorf("persist credential kind: %w", err)
	}
	if err := h.store.Delete(ctx, storage.KeyOAuthSessionToken); err != nil {
		return fmt.Errorf("drop legacy key: %w", err)
	}
	h.adopt(c)
	return nil
}

// adopt installs a credential in memory only; storage already holds it.
func (h *Holder) adopt(c Credential) {
	h.mu.Lock()
	h.cred = &c
	h.mu.Unlock()
}

// clear forgets the credential and returns the one that was held.
func (h *Holder) clear(ctx context.Context) (Credential, bool, error) {
	h.mu.Lock()
	prev := h.cred
	h.cred = nil
	h.mu.Unlock()

	err := h.store.Delete(ctx, storage.KeyAuthToken, storage.KeyOAuthSessionToken, storage.KeyAuthType)
	if prev == nil {
		return Credential{}, false, err
	}
	return *prev, true, err
}

// restore reads the persisted credential, migrating the legacy oauth key to
// auth_token on the way.
func (h *Holder) restore(ctx context.Context) (Credential, bool, error) {
	kind, _, err := h.store.Get(ctx, storage.KeyAuthType)
	if err != nil {
		return Credential{}, false, err
	}
	token, hasToken, err := h.store.Get(ctx, storage.KeyAuthToken)
	if err != nil {
		return Credential{}, false, err
	}

	if Kind(kind) == KindOAuth {
		legacy, hasLegacy, err := h.store.Get(ctx, storage.KeyOAuthSessionToken)
		if err != nil {
			return Credential{}, false, err
		}
		if hasLegacy {
			token, hasToken = legacy, true
			if err := h.store.Set(ctx, storage.KeyAuthToken, legacy); err != nil {
				return Credential{}, false, err
			}
			if err := h.store.Delete(ctx, storage.KeyOAuthSessionToken); err != nil {
				return Credential{}, false, err
			}
		}
		return Credential{Kind: KindOAuth, Token: token}, true, nil
	}

	if !hasToken {
		return Credential{}, false, nil
	}
	return Credential{Kind: KindJWT, Token: token}, true, nil
}
