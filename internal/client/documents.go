package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// ListDocuments lists converted documents of the account
func (c *BackendClient) ListDocuments(ctx context.Context, token string) ([]models.Document, error) {
	var result []models.Document
	if err := c.call(ctx, &request{method: http.MethodGet, path: "/api/documents", token: token}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DownloadDocument returns the converted spreadsheet of a document
func (c *BackendClient) DownloadDocument(ctx context.Context, token, id string) ([]byte, error) {
	return c.send(ctx, &request{method: http.MethodGet, path: "/api/documents/" + url.PathEscape(id) + "/download", token: token})
}

// DeleteDocument deletes a document
func (c *BackendClient) DeleteDocument(ctx context.Context, token, id string) error {
	return c.call(ctx, &request{method: http.MethodDelete, path: "/api/documents/" + url.PathEscape(id), token: token}, nil)
}
