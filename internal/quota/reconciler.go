package quota

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// ErrInFlight is returned when a reconciliation is already running.
var ErrInFlight = errors.New("reconciliation already in progress")

// ErrSignedOut is returned when there is no credential to reconcile with.
var ErrSignedOut = errors.New("not signed in")

type ProfileFetcher interface {
	GetProfile(ctx context.Context, token string) (*models.UserProfile, error)
}

// TokenSource yields the active bearer token; ok is false when signed out.
type TokenSource interface {
	Token() (token string, ok bool)
}

// Reconciler replaces the local record with a full profile fetch. At most one
// fetch runs at a time; overlapping calls are dropped, not queued.
type Reconciler struct {
	backend ProfileFetcher
	tokens  TokenSource
	record  *Record
	metrics *metrics.Metrics
	log     *zap.Logger

	running atomic.Bool
}

func NewReconciler(backend ProfileFetcher, tokens TokenSource, record *Record, m *metrics.Metrics, log *zap.Logger) *Reconciler {
	return &Reconciler{
		backend: backend,
		tokens:  tokens,
		record:  record,
		metrics: m,
		log:     log.Named("reconciler"),
	}
}

// Reconcile fetches the authoritative record. It returns ErrInFlight without
// touching the network if another call is running. A failed fetch discards
// the provisional tier.
func (r *Reconciler) Reconcile(ctx context.Context) (*models.UserProfile, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.observe("skipped")
		return nil, ErrInFlight
	}
	defer r.running.Store(false)

	token, ok := r.tokens.Token()
	if !ok {
		r.observe("signed_out")
		return nil, ErrSignedOut
	}

	profile, err := r.backend.GetProfile(ctx, token)
	if err != nil {
		// nothing is outstanding any more; render the last authoritative record
		r.record.DropProvisional()
		r.observe("error")
		r.log.Warn("profile fetch failed", zap.Error(err))
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	r.record.SetAuthoritative(profile)
	r.observe("ok")
	r.log.Debug("quota reconciled",
		zap.String("tier", profile.SubscriptionTier),
		zap.Int("pages_remaining", profile.PagesRemaining),
	)
	return profile, nil
}

// InFlight reports whether a reconciliation is running.
func (r *Reconciler) InFlight() bool {
	return r.running.Load()
}

func (r *Reconciler) observe(result string) {
	if r.metrics != nil {
		r.metrics.Reconciles.WithLabelValues(result).Inc()
	}
}
