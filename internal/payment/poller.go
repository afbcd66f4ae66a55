package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
)

var errNoToken = errors.New("credential not hydrated")

// Outcome is how one Confirm run ended.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailed       Outcome = "failed"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeNoMarker     Outcome = "no_marker"
	OutcomeNoCredential Outcome = "no_credential"
	OutcomeSuperseded   Outcome = "superseded"
	OutcomeInFlight     Outcome = "in_flight"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeCancelled    Outcome = "cancelled"
)

type StatusBackend interface {
	CheckSubscription(ctx context.Context, token, subscriptionID string) (*models.CheckSubscriptionResponse, error)
	FetchAndSaveInvoice(ctx context.Context, token, subscriptionID string) error
}

type TokenSource interface {
	Token() (token string, ok bool)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (*models.UserProfile, error)
}

// Poller asks the backend whether the marked checkout reached a terminal
// state. Requests for one marker are strictly sequential and bounded by the
// persisted attempt counter.
type Poller struct {
	backend    StatusBackend
	tokens     TokenSource
	markers    *MarkerStore
	reconciler Reconciler
	notifier   notify.Notifier
	cfg        config.PaymentConfig
	metrics    *metrics.Metrics
	log        *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	active    map[string]bool
	succeeded map[string]bool
}

func NewPoller(
	backend StatusBackend,
	tokens TokenSource,
	markers *MarkerStore,
	reconciler Reconciler,
	notifier notify.Notifier,
	cfg config.PaymentConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *Poller {
	return &Poller{
		backend:    backend,
		tokens:     tokens,
		markers:    markers,
		reconciler: reconciler,
		notifier:   notifier,
		cfg:        cfg,
		metrics:    m,
		log:        log.Named("poller"),
		sleep:      sleepContext,
		active:     make(map[string]bool),
		succeeded:  make(map[string]bool),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Confirm runs the confirmation flow for the live marker until it reaches a
// terminal outcome.
func (p *Poller) Confirm(ctx context.Context) Outcome {
	token, err := p.awaitToken(ctx)
	if err != nil {
		p.log.Info("no credential to confirm payment with", zap.Error(err))
		notify.WithAction(p.notifier, notify.LevelInfo, "Sign in to finish activating your subscription.", notify.ActionSignup)
		return OutcomeNoCredential
	}

	marker, ok, err := p.markers.Inspect(ctx)
	if err != nil {
		p.log.Warn("failed to read payment marker", zap.Error(err))
	}
	if !ok {
		if _, err := p.reconciler.Reconcile(ctx); err != nil {
			p.log.Debug("one-shot reconcile skipped", zap.Error(err))
		}
		return OutcomeNoMarker
	}

	id := marker.SubscriptionID
	if !p.begin(id) {
		return OutcomeInFlight
	}
	defer p.end(id)

	log := p.log.With(zap.String("subscription_id", id))
	for {
		if p.hasSucceeded(id) {
			if err := p.markers.Consume(ctx); err != nil {
				log.Warn("failed to delete payment marker", zap.Error(err))
			}
			return OutcomeDuplicate
		}
		// A concurrent success path or a newer checkout removes our marker.
		cur, ok, err := p.markers.Inspect(ctx)
		if err != nil {
			log.Warn("failed to re-read payment marker", zap.Error(err))
		}
		if !ok || cur.SubscriptionID != id {
			return OutcomeSuperseded
		}

		status := p.check(ctx, token, id, log)
		p.observe(status)

		switch {
		case status == models.SubscriptionStatusSuccess:
			return p.succeed(ctx, token, id, log)

		case models.IsTerminalFailure(status):
			if err := p.markers.Consume(ctx); err != nil {
				log.Warn("failed to delete payment marker", zap.Error(err))
			}
			log.Info("checkout ended without payment", zap.String("status", status))
			notify.WithAction(p.notifier, notify.LevelError, failureMessage(status), notify.ActionRetry)
			return OutcomeFailed
		}

		attempts, err := p.markers.IncrementAttempts(ctx)
		if err != nil {
			log.Warn("failed to persist attempt counter", zap.Error(err))
			attempts = p.cfg.MaxAttempts
		}
		if attempts >= p.cfg.MaxAttempts {
			if err := p.markers.Consume(ctx); err != nil {
				log.Warn("failed to delete payment marker", zap.Error(err))
			}
			log.Warn("subscription still pending after max attempts", zap.Int("attempts", attempts))
			p.observe("timed_out")
			notify.Error(p.notifier, "We could not confirm your subscription yet. Please refresh the page in a minute or contact support.")
			return OutcomeTimedOut
		}

		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return OutcomeCancelled
		}
	}
}

// check issues one status request. Transport and decode errors, and any
// status that is not terminal, count as pending.
func (p *Poller) check(ctx context.Context, token, id string, log *zap.Logger) string {
	resp, err := p.backend.CheckSubscription(ctx, token, id)
	if err != nil {
		log.Debug("status request failed, treating as pending", zap.Error(err))
		return models.SubscriptionStatusPending
	}
	if resp.Status == models.SubscriptionStatusSuccess || models.IsTerminalFailure(resp.Status) {
		return resp.Status
	}
	return models.SubscriptionStatusPending
}

// succeed applies the success side effects once per subscription id.
func (p *Poller) succeed(ctx context.Context, token, id string, log *zap.Logger) Outcome {
	p.mu.Lock()
	if p.succeeded[id] {
		p.mu.Unlock()
		return OutcomeDuplicate
	}
	p.succeeded[id] = true
	p.mu.Unlock()

	if err := p.markers.Consume(ctx); err != nil {
		log.Warn("failed to delete payment marker", zap.Error(err))
	}

	msg := "Subscription activated! Your credits have been updated."
	if profile, err := p.reconciler.Reconcile(ctx); err == nil {
		msg = fmt.Sprintf("Subscription activated! Your account now has %d pages remaining.", profile.PagesRemaining)
	} else {
		log.Info("reconcile after activation did not run", zap.Error(err))
	}
	notify.Success(p.notifier, msg)
	log.Info("subscription activated")

	if err := p.backend.FetchAndSaveInvoice(ctx, token, id); err != nil {
		log.Info("invoice fetch failed", zap.Error(err))
	}
	return OutcomeSuccess
}

// awaitToken waits for the credential to hydrate, bounded separately from the
// status attempts.
func (p *Poller) awaitToken(ctx context.Context) (string, error) {
	if token, ok := p.tokens.Token(); ok {
		return token, nil
	}
	retries := uint64(0)
	if p.cfg.HydrateAttempts > 1 {
		retries = uint64(p.cfg.HydrateAttempts - 1)
	}
	interval := p.cfg.HydrateInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	backoff := retry.WithMaxRetries(retries, retry.NewConstant(interval))
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (string, error) {
		if token, ok := p.tokens.Token(); ok {
			return token, nil
		}
		return "", retry.RetryableError(errNoToken)
	})
}

func (p *Poller) begin(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[id] {
		return false
	}
	p.active[id] = true
	return true
}

func (p *Poller) end(id string) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

func (p *Poller) hasSucceeded(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succeeded[id]
}

func (p *Poller) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.PaymentPolls.WithLabelValues(outcome).Inc()
	}
}

func failureMessage(status string) string {
	switch status {
	case models.SubscriptionStatusCancelled:
		return "Your checkout was cancelled. No payment was taken."
	case models.SubscriptionStatusExpired:
		return "Your checkout session expired. Please start a new one."
	case models.SubscriptionStatusNotFound:
		return "We could not find your checkout. Please try again."
	}
	return "Your payment failed. Please try again."
}
