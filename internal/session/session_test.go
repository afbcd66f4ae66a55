package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/client"
	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

type fakeBackend struct {
	mu sync.Mutex

	loginResp   *models.AuthResponse
	loginErr    error
	signupResp  *models.AuthResponse
	oauthData   *models.OAuthSessionData
	profile     *models.UserProfile
	profileErr  error
	forgotResp  *models.ForgotPasswordResponse
	logouts     []string
	oauthLogout []string
	signupCalls int
}

func (f *fakeBackend) Login(context.Context, *models.LoginRequest) (*models.AuthResponse, error) {
	return f.loginResp, f.loginErr
}

func (f *fakeBackend) Signup(context.Context, *models.SignupRequest) (*models.AuthResponse, error) {
	f.signupCalls++
	return f.signupResp, nil
}

func (f *fakeBackend) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	return errors.New("backend down")
}

func (f *fakeBackend) OAuthSessionData(context.Context, string) (*models.OAuthSessionData, error) {
	return f.oauthData, nil
}

func (f *fakeBackend) OAuthLogout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oauthLogout = append(f.oauthLogout, token)
	return nil
}

func (f *fakeBackend) ForgotPassword(context.Context, string) (*models.ForgotPasswordResponse, error) {
	return f.forgotResp, nil
}

func (f *fakeBackend) GetProfile(context.Context, string) (*models.UserProfile, error) {
	return f.profile, f.profileErr
}

type profileSink struct {
	current *models.UserProfile
	cleared int
}

func (p *profileSink) SetAuthoritative(u *models.UserProfile) { p.current = u }
func (p *profileSink) Clear()                                 { p.current = nil; p.cleared++ }

func newAuth(t *testing.T, b *fakeBackend) (*Auth, storage.Store, *profileSink) {
	t.Helper()
	store := storage.NewMemoryStore(0)
	sink := &profileSink{}
	oauth := config.OAuthConfig{ProviderURL: "https://auth.example.com", SiteURL: "https://portal.example.com"}
	return NewAuth(b, NewHolder(store), sink, oauth, zap.NewNop()), store, sink
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestCredential_Expired(t *testing.T) {
	now := time.Now()

	assert.True(t, Credential{Kind: KindJWT, Token: signedToken(t, now.Add(-time.Minute))}.Expired(now))
	assert.False(t, Credential{Kind: KindJWT, Token: signedToken(t, now.Add(time.Hour))}.Expired(now))
	assert.False(t, Credential{Kind: KindJWT, Token: "opaque"}.Expired(now))
	assert.False(t, Credential{Kind: KindOAuth, Token: signedToken(t, now.Add(-time.Minute))}.Expired(now))
}

func TestLogin_PersistsSingleCredential(t *testing.T) {
	user := &models.UserProfile{ID: "u1", SubscriptionTier: models.TierStarter, PagesRemaining: 40}
	b := &fakeBackend{loginResp: &models.AuthResponse{AccessToken: "jwt-token-123", User: user}}
	auth, store, sink := newAuth(t, b)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, storage.KeyOAuthSessionToken, "old-oauth"))

	res := auth.Login(ctx, " a@b.com ", "secret")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, user, sink.current)

	cred, ok := auth.Holder().Current()
	require.True(t, ok)
	assert.Equal(t, Credential{Kind: KindJWT, Token: "jwt-token-123"}, cred)

	v, _, _ := store.Get(ctx, storage.KeyAuthToken)
	assert.Equal(t, "jwt-token-123", v)
	v, _, _ = store.Get(ctx, storage.KeyAuthType)
	assert.Equal(t, "jwt", v)
	_, ok, _ = store.Get(ctx, storage.KeyOAuthSessionToken)
	assert.False(t, ok, "switching kind clears the other credential")
}

func TestLogin_Failures(t *testing.T) {
	t.Run("invalid email", func(t *testing.T) {
		auth, _, _ := newAuth(t, &fakeBackend{})
		res := auth.Login(context.Background(), "not-an-email", "x")
		assert.False(t, res.Success)
		assert.Equal(t, "Please enter a valid email address", res.Error)
	})

	t.Run("backend detail", func(t *testing.T) {
		auth, _, _ := newAuth(t, &fakeBackend{loginErr: &client.APIError{StatusCode: 401, Detail: "Incorrect password"}})
		res := auth.Login(context.Background(), "a@b.com", "x")
		assert.Equal(t, "Incorrect password", res.Error)
	})

	t.Run("bare 401", func(t *testing.T) {
		auth, _, _ := newAuth(t, &fakeBackend{loginErr: &client.APIError{StatusCode: 401, Detail: "Unauthorized"}})
		res := auth.Login(context.Background(), "a@b.com", "x")
		assert.Equal(t, "Invalid email or password", res.Error)
	})

	t.Run("unreachable", func(t *testing.T) {
		auth, _, _ := newAuth(t, &fakeBackend{loginErr: errors.New("dial tcp: refused")})
		res := auth.Login(context.Background(), "a@b.com", "x")
		assert.Equal(t, msgUnreachable, res.Error)
	})

	t.Run("missing token", func(t *testing.T) {
		auth, _, _ := newAuth(t, &fakeBackend{loginResp: &models.AuthResponse{}})
		res := auth.Login(context.Background(), "a@b.com", "x")
		assert.Equal(t, msgInvalidResponse, res.Error)
		assert.False(t, auth.Holder().Authenticated())
	})
}

func TestSignup_Validation(t *testing.T) {
	valid := func() *SignupForm {
		return &SignupForm{
			SignupRequest: models.SignupRequest{
				FullName:        "Ada Lovelace",
				Email:           "ada@example.com",
				Password:        "longenough",
				ConfirmPassword: "longenough",
			},
			AcceptTerms: true,
		}
	}

	cases := []struct {
		name   string
		mutate func(f *SignupForm)
		want   string
	}{
		{"name", func(f *SignupForm) { f.FullName = "  " }, "Full name is required"},
		{"email", func(f *SignupForm) { f.Email = "" }, "Email is required"},
		{"short password", func(f *SignupForm) { f.Password, f.ConfirmPassword = "short", "short" }, "Password must be at least 8 characters long"},
		{"mismatch", func(f *SignupForm) { f.ConfirmPassword = "different" }, "Passwords do not match"},
		{"terms", func(f *SignupForm) { f.AcceptTerms = false }, "You must accept the terms and privacy policy"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{}
			auth, _, _ := newAuth(t, b)
			form := valid()
			tc.mutate(form)
			res := auth.Signup(context.Background(), form)
			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.Error)
			assert.Zero(t, b.signupCalls, "invalid forms never reach the backend")
		})
	}

	t.Run("ok", func(t *testing.T) {
		b := &fakeBackend{signupResp: &models.AuthResponse{AccessToken: "t", User: &models.UserProfile{ID: "u"}}}
		auth, _, _ := newAuth(t, b)
		res := auth.Signup(context.Background(), valid())
		assert.True(t, res.Success)
		assert.Equal(t, 1, b.signupCalls)
	})
}

func TestExchangeOAuth(t *testing.T) {
	b := &fakeBackend{oauthData: &models.OAuthSessionData{
		SessionToken: "oauth-tok",
		UserProfile:  models.UserProfile{ID: "u2", Email: "g@example.com"},
	}}
	auth, store, sink := newAuth(t, b)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, storage.KeyAuthToken, "stale-jwt"))

	res := auth.ExchangeOAuth(ctx, "sess-1")
	require.True(t, res.Success)
	assert.Equal(t, "u2", sink.current.ID)

	cred, ok := auth.Holder().Current()
	require.True(t, ok)
	assert.Equal(t, KindOAuth, cred.Kind)
	v, _, _ := store.Get(ctx, storage.KeyAuthToken)
	assert.Equal(t, "oauth-tok", v, "one storage key for both kinds")
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()

	t.Run("migrates legacy oauth key", func(t *testing.T) {
		b := &fakeBackend{profile: &models.UserProfile{ID: "u3"}}
		auth, store, sink := newAuth(t, b)
		require.NoError(t, store.Set(ctx, storage.KeyOAuthSessionToken, "legacy-tok"))
		require.NoError(t, store.Set(ctx, storage.KeyAuthType, "oauth"))

		assert.True(t, auth.Hydrate(ctx))
		assert.Equal(t, "u3", sink.current.ID)

		tok, ok := auth.Holder().Token()
		assert.True(t, ok)
		assert.Equal(t, "legacy-tok", tok)
		v, _, _ := store.Get(ctx, storage.KeyAuthToken)
		assert.Equal(t, "legacy-tok", v)
		_, ok, _ = store.Get(ctx, storage.KeyOAuthSessionToken)
		assert.False(t, ok)
	})

	t.Run("rejected credential is dropped", func(t *testing.T) {
		b := &fakeBackend{profileErr: &client.APIError{StatusCode: 401}}
		auth, store, _ := newAuth(t, b)
		require.NoError(t, store.Set(ctx, storage.KeyAuthToken, "bad"))

		assert.False(t, auth.Hydrate(ctx))
		_, ok, _ := store.Get(ctx, storage.KeyAuthToken)
		assert.False(t, ok)
	})

	t.Run("unreachable backend keeps credential", func(t *testing.T) {
		b := &fakeBackend{profileErr: errors.New("timeout")}
		auth, store, _ := newAuth(t, b)
		require.NoError(t, store.Set(ctx, storage.KeyAuthToken, "maybe-good"))

		assert.True(t, auth.Hydrate(ctx))
		assert.True(t, auth.Holder().Authenticated())
	})

	t.Run("expired jwt is dropped without a call", func(t *testing.T) {
		b := &fakeBackend{profileErr: errors.New("must not be called")}
		auth, store, _ := newAuth(t, b)
		require.NoError(t, store.Set(ctx, storage.KeyAuthToken, signedToken(t, time.Now().Add(-time.Hour))))

		assert.False(t, auth.Hydrate(ctx))
		_, ok, _ := store.Get(ctx, storage.KeyAuthToken)
		assert.False(t, ok)
	})

	t.Run("nothing stored", func(t *testing.T) {
		auth, _, _ := newAuth(t, &fakeBackend{})
		assert.False(t, auth.Hydrate(ctx))
	})
}

func TestLogout_ClearsFirstAndPingsInBackground(t *testing.T) {
	b := &fakeBackend{loginResp: &models.AuthResponse{AccessToken: "jwt-1", User: &models.UserProfile{ID: "u"}}}
	auth, store, sink := newAuth(t, b)
	ctx := context.Background()
	require.True(t, auth.Login(ctx, "a@b.com", "pw").Success)

	res := auth.Logout(ctx)
	assert.True(t, res.Success, "a failing backend logout is not surfaced")
	assert.False(t, auth.Holder().Authenticated())
	assert.Equal(t, 1, sink.cleared)
	_, ok, _ := store.Get(ctx, storage.KeyAuthToken)
	assert.False(t, ok)

	auth.Wait()
	assert.Equal(t, []string{"jwt-1"}, b.logouts)
	assert.Empty(t, b.oauthLogout)
}

func TestLogout_OAuth(t *testing.T) {
	b := &fakeBackend{oauthData: &models.OAuthSessionData{SessionToken: "o-1"}}
	auth, _, _ := newAuth(t, b)
	require.True(t, auth.ExchangeOAuth(context.Background(), "s").Success)

	auth.Logout(context.Background())
	auth.Wait()
	assert.Equal(t, []string{"o-1"}, b.oauthLogout)
	assert.Empty(t, b.logouts)
}

func TestForgotPassword(t *testing.T) {
	cases := []struct {
		resp    models.ForgotPasswordResponse
		success bool
		want    string
	}{
		{models.ForgotPasswordResponse{EmailExists: true, EmailSent: true}, true, "Password reset link has been sent to your email!"},
		{models.ForgotPasswordResponse{EmailExists: true, IsOAuth: true}, false, "This account was created with social login. Please use the same method to sign in."},
		{models.ForgotPasswordResponse{EmailExists: true}, false, "Failed to send password reset email. Please try again later."},
		{models.ForgotPasswordResponse{}, false, "No account found with this email address."},
	}
	for _, tc := range cases {
		resp := tc.resp
		auth, _, _ := newAuth(t, &fakeBackend{forgotResp: &resp})
		res := auth.ForgotPassword(context.Background(), "a@b.com")
		assert.Equal(t, tc.success, res.Success)
		if tc.success {
			assert.Equal(t, tc.want, res.Message)
		} else {
			assert.Equal(t, tc.want, res.Error)
		}
	}
}

func TestOAuthURL(t *testing.T) {
	auth, _, _ := newAuth(t, &fakeBackend{})
	assert.Equal(t, "https://auth.example.com/?redirect=https%3A%2F%2Fportal.example.com%2F", auth.OAuthURL())
}
