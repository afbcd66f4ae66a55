package payment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

var (
	ErrSignInRequired = errors.New("Please sign up or login to upgrade your plan")
	ErrContactSales   = errors.New("Enterprise plans are arranged with our sales team. Please contact us.")
	ErrUnknownPlan    = errors.New("unknown plan")
)

type CheckoutBackend interface {
	CreateSubscription(ctx context.Context, token string, req *models.CreateSubscriptionRequest) (*models.CreateSubscriptionResponse, error)
}

// Checkout starts an external checkout and leaves the marker behind.
type Checkout struct {
	backend CheckoutBackend
	tokens  TokenSource
	markers *MarkerStore
	log     *zap.Logger
}

func NewCheckout(backend CheckoutBackend, tokens TokenSource, markers *MarkerStore, log *zap.Logger) *Checkout {
	return &Checkout{backend: backend, tokens: tokens, markers: markers, log: log.Named("checkout")}
}

// Start creates the subscription and persists its id as the pending marker
// before the caller navigates to the returned checkout URL.
func (c *Checkout) Start(ctx context.Context, planID, interval string) (*models.CreateSubscriptionResponse, error) {
	token, ok := c.tokens.Token()
	if !ok {
		return nil, ErrSignInRequired
	}
	plan, found := models.FindPlan(planID)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	if plan.ContactOnly {
		return nil, ErrContactSales
	}
	if interval == "" {
		interval = models.BillingMonthly
	}

	resp, err := c.backend.CreateSubscription(ctx, token, &models.CreateSubscriptionRequest{
		PackageID:       plan.ID,
		BillingInterval: interval,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if resp.CheckoutURL == "" {
		return nil, errors.New("checkout url missing from response")
	}

	if resp.SessionID != "" {
		if _, err := c.markers.Put(ctx, resp.SessionID); err != nil {
			return nil, fmt.Errorf("save pending marker: %w", err)
		}
	}
	c.log.Info("checkout started", zap.String("plan", plan.ID), zap.String("subscription_id", resp.SessionID))
	return resp, nil
}

type InvoiceBackend interface {
	ListInvoices(ctx context.Context, token string) ([]models.Invoice, error)
	SyncInvoices(ctx context.Context, token string) (*models.SyncInvoicesResponse, error)
}

// Invoices lists and syncs invoices for the settings view.
type Invoices struct {
	backend InvoiceBackend
	tokens  TokenSource
}

func NewInvoices(backend InvoiceBackend, tokens TokenSource) *Invoices {
	return &Invoices{backend: backend, tokens: tokens}
}

func (i *Invoices) List(ctx context.Context) ([]models.Invoice, error) {
	token, ok := i.tokens.Token()
	if !ok {
		return nil, ErrSignInRequired
	}
	return i.backend.ListInvoices(ctx, token)
}

func (i *Invoices) Sync(ctx context.Context) (*models.SyncInvoicesResponse, error) {
	token, ok := i.tokens.Token()
	if !ok {
		return nil, ErrSignInRequired
	}
	return i.backend.SyncInvoices(ctx, token)
}
