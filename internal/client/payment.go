package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// CreateSubscription starts an external checkout and returns its session id and URL
func (c *BackendClient) CreateSubscription(ctx context.Context, token string, req *models.CreateSubscriptionRequest) (*models.CreateSubscriptionResponse, error) {
	r, err := jsonRequest(http.MethodPost, "/api/dodo/create-subscription", token, req)
	if err != nil {
		return nil, err
	}
	var result models.CreateSubscriptionResponse
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckSubscription asks whether a checkout reached a terminal state
func (c *BackendClient) CheckSubscription(ctx context.Context, token, subscriptionID string) (*models.CheckSubscriptionResponse, error) {
	r, err := jsonRequest(http.MethodPost, "/api/dodo/check-subscription/"+url.PathEscape(subscriptionID), token, nil)
	if err != nil {
		return nil, err
	}
	var result models.CheckSubscriptionResponse
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchAndSaveInvoice asks the backend to materialise the invoice of a paid subscription
func (c *BackendClient) FetchAndSaveInvoice(ctx context.Context, token, subscriptionID string) error {
	path := "/api/dodo/fetch-and-save-invoice?subscription_id=" + url.QueryEscape(subscriptionID)
	return c.call(ctx, &request{method: http.MethodPost, path: path, token: token}, nil)
}

// ListInvoices lists invoices of the account
func (c *BackendClient) ListInvoices(ctx context.Context, token string) ([]models.Invoice, error) {
	var result []models.Invoice
	if err := c.call(ctx, &request{method: http.MethodGet, path: "/api/dodo/invoices", token: token}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SyncInvoices reconciles invoices with the payment provider
func (c *BackendClient) SyncInvoices(ctx context.Context, token string) (*models.SyncInvoicesResponse, error) {
	var result models.SyncInvoicesResponse
	if err := c.call(ctx, &request{method: http.MethodPost, path: "/api/dodo/sync-invoices", token: token}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
