package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription status values returned by check-subscription
const (
	SubscriptionStatusSuccess   = "success"
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusFailed    = "failed"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusNotFound  = "not_found"
)

// Billing intervals
const (
	BillingMonthly = "monthly"
	BillingAnnual  = "annual"
)

// IsTerminalFailure reports whether polling must stop without success.
func IsTerminalFailure(status string) bool {
	switch status {
	case SubscriptionStatusFailed, SubscriptionStatusCancelled, SubscriptionStatusExpired, SubscriptionStatusNotFound:
		return true
	}
	return false
}

type CreateSubscriptionRequest struct {
	PackageID       string `json:"package_id" binding:"required"`
	BillingInterval string `json:"billing_interval" binding:"required,oneof=monthly annual"`
}

type CreateSubscriptionResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

type CheckSubscriptionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type Invoice struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	InvoiceURL     string          `json:"invoice_url,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SyncInvoicesResponse struct {
	Synced int `json:"synced"`
}

// Plan is a purchasable package shown on the pricing view.
type Plan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	AnnualPrice  decimal.Decimal `json:"annual_price"`
	Pages        int             `json:"pages"`
	ContactOnly  bool            `json:"contact_only"`
}

// Plans is the fixed catalogue offered at checkout.
var Plans = []Plan{
	{ID: TierStarter, Name: "Starter", MonthlyPrice: decimal.NewFromInt(15), AnnualPrice: decimal.NewFromInt(12), Pages: 400},
	{ID: TierProfessional, Name: "Professional", MonthlyPrice: decimal.NewFromInt(30), AnnualPrice: decimal.NewFromInt(24), Pages: 1000},
	{ID: TierBusiness, Name: "Business", MonthlyPrice: decimal.NewFromInt(50), AnnualPrice: decimal.NewFromInt(40), Pages: 4000},
	{ID: TierEnterprise, Name: "Enterprise", ContactOnly: true},
}

// FindPlan returns the catalogue entry with the given id.
func FindPlan(id string) (*Plan, bool) {
	for i := range Plans {
		if Plans[i].ID == id {
			return &Plans[i], true
		}
	}
	return nil, false
}
