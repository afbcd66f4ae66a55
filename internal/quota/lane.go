package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
)

const msgInsufficientPages = "Insufficient pages remaining. Please upgrade your plan."

type AccountBackend interface {
	CheckPages(ctx context.Context, token string, pageCount int) (*models.PagesCheckResponse, error)
	ProcessPDF(ctx context.Context, token string, file *models.Upload) (*models.ProcessResponse, error)
}

// AccountLane gates conversions on the signed-in visitor's page quota.
type AccountLane struct {
	backend    AccountBackend
	tokens     TokenSource
	record     *Record
	reconciler *Reconciler
	log        *zap.Logger
}

func NewAccountLane(backend AccountBackend, tokens TokenSource, record *Record, reconciler *Reconciler, log *zap.Logger) *AccountLane {
	return &AccountLane{
		backend:    backend,
		tokens:     tokens,
		record:     record,
		reconciler: reconciler,
		log:        log.Named("account_lane"),
	}
}

func (l *AccountLane) Name() string { return "account" }

// Permit blocks without a network call when the local record shows no pages
// left, and otherwise asks the backend's pre-flight check.
func (l *AccountLane) Permit(ctx context.Context, pages int) error {
	token, ok := l.tokens.Token()
	if !ok {
		return &GateError{Message: "Please sign in to convert statements.", Action: notify.ActionSignup}
	}

	if p, known := l.record.Current(); known && !p.Unlimited() && p.PagesRemaining <= 0 {
		return &GateError{Message: msgInsufficientPages, Action: notify.ActionUpgrade, Exhausted: true}
	}

	resp, err := l.backend.CheckPages(ctx, token, pages)
	if err != nil {
		l.log.Warn("pages check failed", zap.Error(err))
		return &GateError{Message: "Unable to verify your page limit. Please try again.", Action: notify.ActionRetry}
	}
	if !resp.CanConvert {
		msg := msgInsufficientPages
		if resp.Error != "" {
			msg = "Unable to verify pages: " + resp.Error
		}
		return &GateError{Message: msg, Action: notify.ActionUpgrade, Exhausted: true}
	}
	return nil
}

func (l *AccountLane) Convert(ctx context.Context, file *models.Upload) (*models.ProcessResponse, error) {
	token, ok := l.tokens.Token()
	if !ok {
		return nil, errors.New("authentication token not found")
	}
	return l.backend.ProcessPDF(ctx, token, file)
}

// Settle records the pages used provisionally, then fetches the authoritative record.
func (l *AccountLane) Settle(ctx context.Context, resp *models.ProcessResponse) {
	l.record.Consume(resp.PagesConsumed())
	if _, err := l.reconciler.Reconcile(ctx); err != nil && !errors.Is(err, ErrInFlight) {
		l.log.Info("post-conversion reconcile failed; showing last fetched quota", zap.Error(err))
	}
}

// SuccessMessage is shown when a conversion on this lane finishes.
func (l *AccountLane) SuccessMessage(resp *models.ProcessResponse) string {
	return fmt.Sprintf("PDF processed successfully! Used %d pages.", resp.PagesConsumed())
}
