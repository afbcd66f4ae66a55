package portal

import (
	"context"
	"errors"
	"strings"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
	"github.com/wenwu/saas-platform/statement-portal/internal/quota"
	"github.com/wenwu/saas-platform/statement-portal/internal/session"
)

var (
	ErrSignedOut        = errors.New("Please log in to continue")
	ErrFullNameRequired = errors.New("Full name is required")
)

type tokenSource interface {
	Token() (string, bool)
}

type documentBackend interface {
	ListDocuments(ctx context.Context, token string) ([]models.Document, error)
	DownloadDocument(ctx context.Context, token, id string) ([]byte, error)
	DeleteDocument(ctx context.Context, token, id string) error
}

// Documents is the document library of a signed-in visitor.
type Documents struct {
	backend documentBackend
	tokens  tokenSource
}

func (d *Documents) List(ctx context.Context) ([]models.Document, error) {
	token, ok := d.tokens.Token()
	if !ok {
		return nil, ErrSignedOut
	}
	return d.backend.ListDocuments(ctx, token)
}

func (d *Documents) Download(ctx context.Context, id string) ([]byte, error) {
	token, ok := d.tokens.Token()
	if !ok {
		return nil, ErrSignedOut
	}
	return d.backend.DownloadDocument(ctx, token, id)
}

func (d *Documents) Delete(ctx context.Context, id string) error {
	token, ok := d.tokens.Token()
	if !ok {
		return ErrSignedOut
	}
	return d.backend.DeleteDocument(ctx, token, id)
}

type profileBackend interface {
	UpdateProfile(ctx context.Context, token string, req *models.UpdateProfileRequest) error
	DeleteProfile(ctx context.Context, token string) error
}

// Profile backs the settings view.
type Profile struct {
	backend    profileBackend
	auth       *session.Auth
	reconciler *quota.Reconciler
	notifier   notify.Notifier
	tokens     tokenSource
}

// Update saves the profile and refreshes the quota record from the backend.
func (p *Profile) Update(ctx context.Context, req *models.UpdateProfileRequest) error {
	token, ok := p.tokens.Token()
	if !ok {
		return ErrSignedOut
	}
	req.FullName = strings.TrimSpace(req.FullName)
	if req.FullName == "" {
		notify.Error(p.notifier, ErrFullNameRequired.Error())
		return ErrFullNameRequired
	}
	if err := p.backend.UpdateProfile(ctx, token, req); err != nil {
		notify.Error(p.notifier, "Failed to update profile")
		return err
	}
	if _, err := p.reconciler.Reconcile(ctx); err != nil && !errors.Is(err, quota.ErrInFlight) {
		return err
	}
	notify.Success(p.notifier, "Profile updated successfully")
	return nil
}

// Delete removes the account and signs the visitor out.
func (p *Profile) Delete(ctx context.Context) error {
	token, ok := p.tokens.Token()
	if !ok {
		return ErrSignedOut
	}
	if err := p.backend.DeleteProfile(ctx, token); err != nil {
		notify.Error(p.notifier, "Failed to delete account")
		return err
	}
	notify.Success(p.notifier, "Account deleted successfully")
	p.auth.Logout(ctx)
	return nil
}
