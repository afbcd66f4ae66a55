package models

// Subscription tiers reported by the backend
const (
	TierDailyFree    = "daily_free"
	TierStarter      = "starter"
	TierProfessional = "professional"
	TierBusiness     = "business"
	TierEnterprise   = "enterprise"
)

// DailyFreePages is the daily allowance of the free tier.
const DailyFreePages = 7

// UserProfile is the authoritative user and quota record returned by GET /api/user/profile.
type UserProfile struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	FullName           string `json:"full_name"`
	LanguagePreference string `json:"language_preference,omitempty"`
	SubscriptionTier   string `json:"subscription_tier"`
	PagesRemaining     int    `json:"pages_remaining"`
	PagesLimit         int    `json:"pages_limit"`
	BillingInterval    string `json:"billing_interval,omitempty"`
}

// Unlimited reports whether the tier has no page ceiling.
func (u *UserProfile) Unlimited() bool {
	return u.SubscriptionTier == TierEnterprise
}

// HasPages reports whether at least n pages can still be converted.
func (u *UserProfile) HasPages(n int) bool {
	return u.Unlimited() || u.PagesRemaining >= n
}

// ==================== Auth DTOs ====================

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SignupRequest struct {
	FullName        string `json:"full_name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// AuthResponse is returned by login and signup.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	User        *UserProfile `json:"user"`
}

// OAuthSessionData is returned by GET /api/auth/oauth/session-data.
type OAuthSessionData struct {
	SessionToken string `json:"session_token"`
	UserProfile
}

type UpdateProfileRequest struct {
	FullName           string `json:"full_name"`
	LanguagePreference string `json:"language_preference,omitempty"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ForgotPasswordResponse struct {
	EmailExists bool `json:"email_exists"`
	EmailSent   bool `json:"email_sent"`
	IsOAuth     bool `json:"is_oauth"`
}

// ==================== Quota DTOs ====================

type PagesCheckRequest struct {
	PageCount int `json:"page_count"`
}

type PagesCheckResponse struct {
	CanConvert bool   `json:"can_convert"`
	Error      string `json:"error,omitempty"`
}

type AnonymousCheckRequest struct {
	BrowserFingerprint string `json:"browser_fingerprint"`
}

// AnonymousStatus is the server-side usage record for a browser fingerprint.
type AnonymousStatus struct {
	CanConvert      bool `json:"can_convert"`
	ConversionsUsed int  `json:"conversions_used"`
}

// ErrorResponse covers the error envelopes the backend emits.
type ErrorResponse struct {
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Text returns the most specific message in the envelope.
func (e ErrorResponse) Text() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Message != "":
		return e.Message
	default:
		return e.Error
	}
}
