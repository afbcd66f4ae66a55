package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *BackendClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewBackendClient(srv.URL, 5*time.Second, zap.NewNop())
}

func TestGetProfile_SendsBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/user/profile", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(models.UserProfile{ID: "u1", SubscriptionTier: "starter", PagesRemaining: 12, PagesLimit: 400})
	})

	profile, err := c.GetProfile(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, 12, profile.PagesRemaining)
	assert.Equal(t, 400, profile.PagesLimit)
}

func TestGetProfile_NoTokenOmitsAuthorization(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(models.UserProfile{ID: "u1"})
	})

	_, err := c.GetProfile(context.Background(), "")
	require.NoError(t, err)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"detail":"Insufficient pages remaining"}`))
	})

	_, err := c.CheckPages(context.Background(), "tok", 1)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "Insufficient pages remaining", apiErr.Detail)
	assert.Equal(t, http.StatusPaymentRequired, StatusOf(err))
}

func TestAPIError_NonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	err := c.DeleteDocument(context.Background(), "tok", "d1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Internal Server Error")
}

func TestOAuthSessionData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-9", r.Header.Get("X-Session-ID"))
		_, _ = w.Write([]byte(`{"session_token":"oauth-tok","id":"u2","email":"a@b.c","pages_remaining":7}`))
	})

	data, err := c.OAuthSessionData(context.Background(), "sess-9")
	require.NoError(t, err)
	assert.Equal(t, "oauth-tok", data.SessionToken)
	assert.Equal(t, "u2", data.ID)
	assert.Equal(t, 7, data.PagesRemaining)
}

func TestAnonymousCheck_SendsFingerprint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fp_abc", r.Header.Get("X-Browser-Fingerprint"))
		var body models.AnonymousCheckRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "fp_abc", body.BrowserFingerprint)
		_, _ = w.Write([]byte(`{"can_convert":true,"conversions_used":0}`))
	})

	status, err := c.AnonymousCheck(context.Background(), "fp_abc")
	require.NoError(t, err)
	assert.True(t, status.CanConvert)
}

func TestProcessPDF_Multipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/process-pdf", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "statement.pdf", hdr.Filename)
		assert.Equal(t, "%PDF-1.4", string(data))
		_, _ = w.Write([]byte(`{"success":true,"data":{"accountInfo":{"accountNumber":"123"}},"pages_processed":3}`))
	})

	resp, err := c.ProcessPDF(context.Background(), "tok", &models.Upload{
		Filename: "statement.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.PagesConsumed())
	assert.Equal(t, "123", resp.Data.AccountInfo.AccountNumber)
}

func TestProcessPDF_UnsuccessfulPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	})

	_, err := c.ProcessPDF(context.Background(), "tok", &models.Upload{Filename: "a.pdf", ContentType: "application/pdf"})
	assert.Error(t, err)
}

func TestCheckSubscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/dodo/check-subscription/sub_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	})

	resp, err := c.CheckSubscription(context.Background(), "tok", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, resp.Status)
}

func TestFetchAndSaveInvoice_Query(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dodo/fetch-and-save-invoice", r.URL.Path)
		assert.Equal(t, "sub_1", r.URL.Query().Get("subscription_id"))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.FetchAndSaveInvoice(context.Background(), "tok", "sub_1"))
}

func TestBearerRequestsNeverCarryCookies(t *testing.T) {
	var gotAuth, gotCookie string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/oauth/session-data":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "oauth-sess", Path: "/"})
			_, _ = w.Write([]byte(`{"session_token":"oauth-tok","id":"u2"}`))
		default:
			gotAuth = r.Header.Get("Authorization")
			gotCookie = r.Header.Get("Cookie")
			_ = json.NewEncoder(w).Encode(models.UserProfile{ID: "u3"})
		}
	})
	ctx := context.Background()

	_, err := c.OAuthSessionData(ctx, "sess-1")
	require.NoError(t, err)

	_, err = c.GetProfile(ctx, "jwt-after-switch")
	require.NoError(t, err)
	assert.Equal(t, "Bearer jwt-after-switch", gotAuth)
	assert.Empty(t, gotCookie)

	// without a token the jar is used
	_, err = c.GetProfile(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
	assert.Equal(t, "session=oauth-sess", gotCookie)
}
