package anonymous

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
	"github.com/wenwu/saas-platform/statement-portal/internal/quota"
)

type Backend interface {
	AnonymousCheck(ctx context.Context, fingerprint string) (*models.AnonymousStatus, error)
	AnonymousConvert(ctx context.Context, fingerprint string, file *models.Upload) (*models.ProcessResponse, error)
}

// Gate is the quota lane of a signed-out visitor. The flip to can_convert=false
// after a conversion is provisional and lasts until the next Check.
type Gate struct {
	backend  Backend
	identity *Identity
	log      *zap.Logger

	mu            sync.RWMutex
	signals       *Signals
	authoritative *models.AnonymousStatus
	provisional   *models.AnonymousStatus
}

func NewGate(backend Backend, identity *Identity, log *zap.Logger) *Gate {
	return &Gate{backend: backend, identity: identity, log: log.Named("anonymous_gate")}
}

func (g *Gate) Name() string { return "anonymous" }

// Init records the browser signals and runs the first check.
func (g *Gate) Init(ctx context.Context, signals *Signals) (models.AnonymousStatus, error) {
	g.mu.Lock()
	g.signals = signals
	g.mu.Unlock()
	return g.Check(ctx)
}

// Fingerprint returns the visitor's persisted fingerprint.
func (g *Gate) Fingerprint(ctx context.Context) string {
	g.mu.RLock()
	signals := g.signals
	g.mu.RUnlock()
	return g.identity.Resolve(ctx, signals)
}

// Check fetches the authoritative usage record and drops any provisional value.
func (g *Gate) Check(ctx context.Context) (models.AnonymousStatus, error) {
	status, err := g.backend.AnonymousCheck(ctx, g.Fingerprint(ctx))
	if err != nil {
		g.log.Warn("anonymous check failed", zap.Error(err))
		return models.AnonymousStatus{}, err
	}
	g.mu.Lock()
	g.authoritative = status
	g.provisional = nil
	g.mu.Unlock()
	return *status, nil
}

// Status returns the usage record to act on and whether one is known.
func (g *Gate) Status() (models.AnonymousStatus, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch {
	case g.provisional != nil:
		return *g.provisional, true
	case g.authoritative != nil:
		return *g.authoritative, true
	}
	return models.AnonymousStatus{}, false
}

// Permit allows the free conversion only while can_convert holds. An unknown
// record is checked once first.
func (g *Gate) Permit(ctx context.Context, _ int) error {
	status, known := g.Status()
	if !known {
		var err error
		if status, err = g.Check(ctx); err != nil {
			return &quota.GateError{Message: "Unable to verify your free conversion. Please try again.", Action: notify.ActionRetry}
		}
	}
	if !status.CanConvert {
		return &quota.GateError{
			Message:   "Free conversion limit reached. Please sign up for unlimited conversions.",
			Action:    notify.ActionSignup,
			Exhausted: true,
		}
	}
	return nil
}

func (g *Gate) Convert(ctx context.Context, file *models.Upload) (*models.ProcessResponse, error) {
	return g.backend.AnonymousConvert(ctx, g.Fingerprint(ctx), file)
}

// Settle flips can_convert off locally without a round trip.
func (g *Gate) Settle(_ context.Context, _ *models.ProcessResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	used := 1
	if g.authoritative != nil {
		used = g.authoritative.ConversionsUsed + 1
	}
	g.provisional = &models.AnonymousStatus{CanConvert: false, ConversionsUsed: used}
}

func (g *Gate) SuccessMessage(_ *models.ProcessResponse) string {
	return "Free conversion completed! Sign up for unlimited conversions."
}

// Display is the quota line shown to a signed-out visitor.
func (g *Gate) Display() string {
	if status, _ := g.Status(); status.CanConvert {
		return "You have 1 free conversion available!"
	}
	return "Free conversion used - Sign up for unlimited access"
}
