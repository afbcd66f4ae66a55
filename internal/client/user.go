package client

import (
	"context"
	"net/http"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// GetProfile fetches the authoritative user and quota record
func (c *BackendClient) GetProfile(ctx context.Context, token string) (*models.UserProfile, error) {
	var result models.UserProfile
	if err := c.call(ctx, &request{method: http.MethodGet, path: "/api/user/profile", token: token}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateProfile updates display name and language preference
func (c *BackendClient) UpdateProfile(ctx context.Context, token string, req *models.UpdateProfileRequest) error {
	r, err := jsonRequest(http.MethodPut, "/api/user/profile", token, req)
	if err != nil {
		return err
	}
	return c.call(ctx, r, nil)
}

// DeleteProfile deletes the account
func (c *BackendClient) DeleteProfile(ctx context.Context, token string) error {
	return c.call(ctx, &request{method: http.MethodDelete, path: "/api/user/profile", token: token}, nil)
}

// CheckPages asks whether pageCount pages may be converted
func (c *BackendClient) CheckPages(ctx context.Context, token string, pageCount int) (*models.PagesCheckResponse, error) {
	r, err := jsonRequest(http.MethodPost, "/api/user/pages/check", token, &models.PagesCheckRequest{PageCount: pageCount})
	if err != nil {
		return nil, err
	}
	var result models.PagesCheckResponse
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
