package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/client"
	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/logger"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

const (
	msgUnreachable     = "Unable to connect to the server. Please check your internet connection and try again."
	msgServerError     = "Server error. Please try again later."
	msgInvalidResponse = "Invalid response from server. Please try again."
	msgUnexpected      = "An unexpected error occurred. Please try again."
)

// logoutTimeout bounds the background logout ping.
const logoutTimeout = 10 * time.Second

// Backend is the part of the backend API the auth flows use.
type Backend interface {
	Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error)
	Signup(ctx context.Context, req *models.SignupRequest) (*models.AuthResponse, error)
	Logout(ctx context.Context, token string) error
	OAuthSessionData(ctx context.Context, sessionID string) (*models.OAuthSessionData, error)
	OAuthLogout(ctx context.Context, token string) error
	ForgotPassword(ctx context.Context, email string) (*models.ForgotPasswordResponse, error)
	GetProfile(ctx context.Context, token string) (*models.UserProfile, error)
}

// ProfileSink receives the authoritative profile whenever the credential changes.
type ProfileSink interface {
	SetAuthoritative(p *models.UserProfile)
	Clear()
}

// Result is the structured outcome of a user-initiated auth action.
type Result struct {
	Success bool                `json:"success"`
	Error   string              `json:"error,omitempty"`
	Message string              `json:"message,omitempty"`
	User    *models.UserProfile `json:"user,omitempty"`
}

func failure(msg string) Result {
	return Result{Error: msg}
}

// SignupForm is what the signup view submits.
type SignupForm struct {
	models.SignupRequest
	AcceptTerms bool `json:"accept_terms" validate:"required"`
}

// Auth drives login, signup, OAuth exchange, hydration and logout for one visitor.
type Auth struct {
	backend  Backend
	holder   *Holder
	profile  ProfileSink
	validate *validator.Validate
	oauth    config.OAuthConfig
	log      *zap.Logger

	pings sync.WaitGroup
}

func NewAuth(backend Backend, holder *Holder, profile ProfileSink, oauth config.OAuthConfig, log *zap.Logger) *Auth {
	return &Auth{
		backend:  backend,
		holder:   holder,
		profile:  profile,
		validate: validator.New(),
		oauth:    oauth,
		log:      log.Named("auth"),
	}
}

func (a *Auth) Holder() *Holder {
	return a.holder
}

// Login exchanges email and password for a JWT credential.
func (a *Auth) Login(ctx context.Context, email, password string) Result {
	req := &models.LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := a.validate.Struct(req); err != nil {
		return failure(validationMessage(err))
	}

	resp, err := a.backend.Login(ctx, req)
	if err != nil {
		a.log.Info("login rejected", zap.Error(err))
		return failure(describe(err, "Invalid email or password"))
	}
	return a.adoptJWT(ctx, resp)
}

// Signup creates an account and signs the visitor in.
func (a *Auth) Signup(ctx context.Context, form *SignupForm) Result {
	form.FullName = strings.TrimSpace(form.FullName)
	form.Email = strings.TrimSpace(form.Email)
	if err := a.validate.Struct(form); err != nil {
		return failure(validationMessage(err))
	}

	resp, err := a.backend.Signup(ctx, &form.SignupRequest)
	if err != nil {
		a.log.Info("signup rejected", zap.Error(err))
		return failure(describe(err, "Signup failed"))
	}
	return a.adoptJWT(ctx, resp)
}

func (a *Auth) adoptJWT(ctx context.Context, resp *models.AuthResponse) Result {
	if resp.AccessToken == "" || resp.User == nil {
		return failure(msgInvalidResponse)
	}
	if err := a.holder.set(ctx, Credential{Kind: KindJWT, Token: resp.AccessToken}); err != nil {
		a.log.Error("failed to persist credential", zap.Error(err))
		return failure(msgUnexpected)
	}
	a.profile.SetAuthoritative(resp.User)
	a.log.Info("signed in", zap.String("user_id", resp.User.ID), zap.String("token", logger.MaskToken(resp.AccessToken)))
	return Result{Success: true, User: resp.User}
}

// ExchangeOAuth trades the session id from the OAuth callback fragment for an oauth credential.
func (a *Auth) ExchangeOAuth(ctx context.Context, sessionID string) Result {
	if sessionID == "" {
		return failure("Missing OAuth session")
	}
	data, err := a.backend.OAuthSessionData(ctx, sessionID)
	if err != nil {
		a.log.Warn("oauth session exchange failed", zap.Error(err))
		return failure(describe(err, "OAuth sign-in failed. Please try again."))
	}

	if err := a.holder.set(ctx, Credential{Kind: KindOAuth, Token: data.SessionToken}); err != nil {
		a.log.Error("failed to persist credential", zap.Error(err))
		return failure(msgUnexpected)
	}
	user := data.UserProfile
	a.profile.SetAuthoritative(&user)
	return Result{Success: true, User: &user}
}

// Hydrate restores the persisted credential and verifies it against the profile endpoint.
// A credential the backend rejects is dropped; one that cannot be verified right now is kept.
func (a *Auth) Hydrate(ctx context.Context) bool {
	if a.holder.Authenticated() {
		return true
	}

	cred, ok, err := a.holder.restore(ctx)
	if err != nil {
		a.log.Warn("failed to read stored credential", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if cred.Expired(a.holder.now()) {
		a.log.Debug("stored token expired")
		a.drop(ctx)
		return false
	}

	profile, err := a.backend.GetProfile(ctx, cred.Bearer())
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			a.log.Info("stored credential rejected", zap.Int("status", apiErr.StatusCode))
			a.drop(ctx)
			return false
		}
		a.log.Warn("could not verify stored credential", zap.Error(err))
		a.holder.adopt(cred)
		return true
	}

	a.holder.adopt(cred)
	a.profile.SetAuthoritative(profile)
	return true
}

func (a *Auth) drop(ctx context.Context) {
	if _, _, err := a.holder.clear(ctx); err != nil {
		a.log.Warn("failed to clear credential", zap.Error(err))
	}
	a.profile.Clear()
}

// Logout clears local state first, then tells the backend in the background.
// It always succeeds locally.
func (a *Auth) Logout(ctx context.Context) Result {
	prev, had, err := a.holder.clear(ctx)
	if err != nil {
		a.log.Warn("failed to clear stored credential", zap.Error(err))
	}
	a.profile.Clear()

	if !had || prev.Token == "" {
		return Result{Success: true}
	}

	a.pings.Add(1)
	go func() {
		defer a.pings.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()

		var err error
		if prev.Kind == KindOAuth {
			err = a.backend.OAuthLogout(ctx, prev.Token)
		} else {
			err = a.backend.Logout(ctx, prev.Token)
		}
		if err != nil {
			a.log.Debug("logout ping failed", zap.String("kind", string(prev.Kind)), zap.Error(err))
		}
	}()
	return Result{Success: true}
}

// Wait blocks until background logout pings have finished.
func (a *Auth) Wait() {
	a.pings.Wait()
}

// ForgotPassword requests a reset link and maps the backend answer to a message.
func (a *Auth) ForgotPassword(ctx context.Context, email string) Result {
	email = strings.TrimSpace(email)
	if email == "" {
		return failure("Please enter your email address")
	}

	resp, err := a.backend.ForgotPassword(ctx, email)
	if err != nil {
		return failure(describe(err, "Failed to send reset email. Please try again."))
	}

	switch {
	case resp.EmailExists && resp.EmailSent:
		return Result{Success: true, Message: "Password reset link has been sent to your email!"}
	case resp.EmailExists && resp.IsOAuth:
		return failure("This account was created with social login. Please use the same method to sign in.")
	case resp.EmailExists:
		return failure("Failed to send password reset email. Please try again later.")
	default:
		return failure("No account found with this email address.")
	}
}

// OAuthURL is where the social login button sends the visitor.
func (a *Auth) OAuthURL() string {
	redirect := strings.TrimRight(a.oauth.SiteURL, "/") + "/"
	return strings.TrimRight(a.oauth.ProviderURL, "/") + "/?redirect=" + url.QueryEscape(redirect)
}

// describe turns a backend error into a message fit for the visitor.
func describe(err error, fallback string) string {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return msgUnreachable
	}
	if apiErr.Detail != "" && apiErr.Detail != http.StatusText(apiErr.StatusCode) {
		return apiErr.Detail
	}
	if apiErr.StatusCode >= 500 {
		return msgServerError
	}
	return fallback
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return msgUnexpected
	}
	fe := verrs[0]
	switch fe.Field() {
	case "FullName":
		return "Full name is required"
	case "Email":
		if fe.Tag() == "required" {
			return "Email is required"
		}
		return "Please enter a valid email address"
	case "Password":
		if fe.Tag() == "required" {
			return "Password is required"
		}
		return "Password must be at least 8 characters long"
	case "ConfirmPassword":
		return "Passwords do not match"
	case "AcceptTerms":
		return "You must accept the terms and privacy policy"
	}
	return "Invalid " + fe.Field()
}
