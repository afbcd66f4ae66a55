package payment

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
)

// Query parameter the checkout provider appends on return.
const (
	SentinelParam = "payment"
	SentinelValue = "success"
)

// Redirect is what the page should do after a return from checkout.
type Redirect struct {
	// Triggered is true when this call started confirmation.
	Triggered bool `json:"triggered"`
	// CleanURL is the current URL without the sentinel, to be swapped in after CleanupAfter.
	CleanURL     string        `json:"clean_url,omitempty"`
	CleanupAfter time.Duration `json:"cleanup_after,omitempty"`
}

// Interceptor detects the return from checkout and starts confirmation once
// per redirect.
type Interceptor struct {
	poller     *Poller
	markers    *MarkerStore
	reconciler Reconciler
	notifier   notify.Notifier
	tasks      *Tasks
	cfg        config.PaymentConfig
	log        *zap.Logger

	afterFunc func(d time.Duration, f func()) *time.Timer
	handled   atomic.Bool
}

func NewInterceptor(
	poller *Poller,
	markers *MarkerStore,
	reconciler Reconciler,
	notifier notify.Notifier,
	tasks *Tasks,
	cfg config.PaymentConfig,
	log *zap.Logger,
) *Interceptor {
	return &Interceptor{
		poller:     poller,
		markers:    markers,
		reconciler: reconciler,
		notifier:   notifier,
		tasks:      tasks,
		cfg:        cfg,
		log:        log.Named("interceptor"),
		afterFunc:  time.AfterFunc,
	}
}

// Handle inspects the URL of a page load. On the sentinel it shows a
// verifying notice, starts the poller in the background (or a one-shot
// reconcile when no marker survived the redirect) and schedules the URL
// cleanup. The handled flag is released when the cleanup fires.
func (i *Interceptor) Handle(ctx context.Context, u *url.URL) Redirect {
	if u == nil || u.Query().Get(SentinelParam) != SentinelValue {
		return Redirect{}
	}
	if !i.handled.CompareAndSwap(false, true) {
		return Redirect{}
	}

	notify.Info(i.notifier, "Payment received! Verifying your subscription...")

	_, hasMarker, err := i.markers.Inspect(ctx)
	if err != nil {
		i.log.Warn("failed to read payment marker", zap.Error(err))
	}
	if hasMarker {
		i.tasks.Go(func(ctx context.Context) {
			outcome := i.poller.Confirm(ctx)
			i.log.Info("payment confirmation finished", zap.String("outcome", string(outcome)))
		})
	} else {
		i.log.Info("payment return without marker, refreshing quota only")
		i.tasks.Go(func(ctx context.Context) {
			if _, err := i.reconciler.Reconcile(ctx); err != nil {
				i.log.Debug("best-effort reconcile failed", zap.Error(err))
			}
		})
	}

	delay := i.cleanupDelay(ctx, hasMarker)
	i.afterFunc(delay, func() {
		i.handled.Store(false)
	})

	return Redirect{Triggered: true, CleanURL: stripSentinel(u), CleanupAfter: delay}
}

// Handled reports whether a redirect is being processed.
func (i *Interceptor) Handled() bool {
	return i.handled.Load()
}

// cleanupDelay outlasts every status request the poller may still make.
func (i *Interceptor) cleanupDelay(ctx context.Context, hasMarker bool) time.Duration {
	delay := i.cfg.CleanupMinDelay
	if !hasMarker {
		return delay
	}
	attempts, err := i.markers.Attempts(ctx)
	if err != nil {
		attempts = 0
	}
	remaining := i.cfg.MaxAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}
	worst := time.Duration(remaining)*i.cfg.PollInterval + i.cfg.PollInterval
	if worst > delay {
		delay = worst
	}
	return delay
}

func stripSentinel(u *url.URL) string {
	clean := *u
	q := clean.Query()
	q.Del(SentinelParam)
	clean.RawQuery = q.Encode()
	clean.Fragment = ""
	return clean.RequestURI()
}
