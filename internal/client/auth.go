package client

import (
	"context"
	"net/http"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// Login exchanges email and password for an access token
func (c *BackendClient) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error) {
	r, err := jsonRequest(http.MethodPost, "/api/auth/login", "", req)
	if err != nil {
		return nil, err
	}
	var result models.AuthResponse
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Signup creates an account and returns its access token
func (c *BackendClient) Signup(ctx context.Context, req *models.SignupRequest) (*models.AuthResponse, error) {
	r, err := jsonRequest(http.MethodPost, "/api/auth/signup", "", req)
	if err != nil {
		return nil, err
	}
	var result models.AuthResponse
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout revokes a password-derived token
func (c *BackendClient) Logout(ctx context.Context, token string) error {
	return c.call(ctx, &request{method: http.MethodPost, path: "/api/auth/logout", token: token}, nil)
}

// OAuthSessionData exchanges an OAuth callback session id for a session token and profile
func (c *BackendClient) OAuthSessionData(ctx context.Context, sessionID string) (*models.OAuthSessionData, error) {
	r := &request{
		method:  http.MethodGet,
		path:    "/api/auth/oauth/session-data",
		headers: map[string]string{"X-Session-ID": sessionID},
	}
	var result models.OAuthSessionData
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OAuthLogout tears down an OAuth session
func (c *BackendClient) OAuthLogout(ctx context.Context, token string) error {
	return c.call(ctx, &request{method: http.MethodPost, path: "/api/auth/oauth/logout", token: token}, nil)
}

// ForgotPassword requests a password reset email
func (c *BackendClient) ForgotPassword(ctx context.Context, email string) (*models.ForgotPasswordResponse, error) {
	r, err := jsonRequest(http.MethodPost, "/api/auth/forgot-password", "", &models.ForgotPasswordRequest{Email: email})
	if err != nil {
		return nil, err
	}
	var result models.ForgotPasswordResponse
	if err := c.call(ctx, r, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
