package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/anonymous"
	"github.com/wenwu/saas-platform/statement-portal/internal/client"
	"github.com/wenwu/saas-platform/statement-portal/internal/export"
	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
	"github.com/wenwu/saas-platform/statement-portal/internal/quota"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func pdf(name string) *models.Upload {
	return &models.Upload{Filename: name, ContentType: "application/pdf", Data: pdfBytes}
}

// backend is a fake converter API that counts requests per path.
type backend struct {
	mu      sync.Mutex
	calls   map[string]int
	handler map[string]http.HandlerFunc
}

func newBackend(t *testing.T) (*backend, *client.BackendClient) {
	b := &backend{calls: map[string]int{}, handler: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.URL.Path]++
		h := b.handler[r.URL.Path]
		b.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return b, client.NewBackendClient(srv.URL, 5*time.Second, zap.NewNop())
}

func (b *backend) on(path string, h http.HandlerFunc) {
	b.mu.Lock()
	b.handler[path] = h
	b.mu.Unlock()
}

func (b *backend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func reply(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}

func replyStatus(code int, detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(models.ErrorResponse{Detail: detail})
	}
}

var extracted = models.ProcessResponse{
	Success: true,
	Data: &models.StatementData{
		AccountInfo: models.AccountInfo{AccountNumber: "42", StatementDate: "01/31/2024"},
		Deposits:    []models.Deposit{{Description: "SALARY", DateCredited: "01/15"}},
	},
	PagesProcessed: 3,
}

type staticToken string

func (s staticToken) Token() (string, bool) { return string(s), s != "" }

func fixed(l Lane) func() Lane { return func() Lane { return l } }

func TestWizard_AnonymousHappyPath(t *testing.T) {
	b, api := newBackend(t)
	b.on("/api/anonymous/check", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Browser-Fingerprint"))
		reply(models.AnonymousStatus{CanConvert: true})(w, r)
	})
	b.on("/api/anonymous/convert", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Browser-Fingerprint"))
		assert.Empty(t, r.Header.Get("Authorization"))
		reply(extracted)(w, r)
	})

	ctx := context.Background()
	gate := anonymous.NewGate(api, anonymous.NewIdentity(storage.NewMemoryStore(0), zap.NewNop()), zap.NewNop())
	status, err := gate.Init(ctx, &anonymous.Signals{UserAgent: "Mozilla/5.0", Platform: "Linux x86_64", ScreenWidth: 1920, ScreenHeight: 1080})
	require.NoError(t, err)
	require.True(t, status.CanConvert)

	rec := notify.NewRecorder()
	m := metrics.New()
	w := New(fixed(gate), rec, export.FormatCSV, m, zap.NewNop())

	snap, err := w.Submit(ctx, pdf("january.pdf"))
	require.NoError(t, err)
	assert.Equal(t, StepResults, snap.Step)
	assert.Equal(t, "42", snap.Data.AccountInfo.AccountNumber)
	assert.True(t, snap.ExportReady)
	assert.Equal(t, 1, b.count("/api/anonymous/convert"))

	cur, _ := gate.Status()
	assert.False(t, cur.CanConvert, "free conversion flips off locally")

	notes := rec.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelSuccess, notes[0].Level)
	assert.Equal(t, "Free conversion completed! Sign up for unlimited conversions.", notes[0].Message)

	f, err := w.Export("")
	require.NoError(t, err)
	assert.Equal(t, "january-converted.csv", f.Name)

	require.NoError(t, w.Reset())
	assert.Equal(t, Snapshot{Step: StepUpload}, w.Snapshot())

	checks := b.count("/api/anonymous/check")
	snap, err = w.Submit(ctx, pdf("february.pdf"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, StepUpload, snap.Step)
	assert.Equal(t, 1, b.count("/api/anonymous/convert"), "second upload is blocked without a network call")
	assert.Equal(t, checks, b.count("/api/anonymous/check"))

	notes = rec.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.ActionSignup, notes[0].Action)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conversions.WithLabelValues("anonymous", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conversions.WithLabelValues("anonymous", "blocked")))
}

func accountLane(api *client.BackendClient, profile *models.UserProfile) (*quota.AccountLane, *quota.Record) {
	record := quota.NewRecord()
	record.SetAuthoritative(profile)
	tokens := staticToken("jwt-token")
	reconciler := quota.NewReconciler(api, tokens, record, nil, zap.NewNop())
	return quota.NewAccountLane(api, tokens, record, reconciler, zap.NewNop()), record
}

func TestWizard_ZeroPagesNeverSubmits(t *testing.T) {
	b, api := newBackend(t)
	b.on("/api/process-pdf", reply(extracted))
	b.on("/api/user/pages/check", reply(models.PagesCheckResponse{CanConvert: true}))

	lane, _ := accountLane(api, &models.UserProfile{SubscriptionTier: models.TierStarter, PagesRemaining: 0, PagesLimit: 400})
	rec := notify.NewRecorder()
	w := New(fixed(lane), rec, "", nil, zap.NewNop())

	snap, err := w.Submit(context.Background(), pdf("march.pdf"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, StepUpload, snap.Step)
	assert.Zero(t, b.count("/api/process-pdf"))
	assert.Zero(t, b.count("/api/user/pages/check"))

	notes := rec.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelError, notes[0].Level)
	assert.Equal(t, notify.ActionUpgrade, notes[0].Action)
}

func TestWizard_AccountConversionReconciles(t *testing.T) {
	b, api := newBackend(t)
	b.on("/api/user/pages/check", reply(models.PagesCheckResponse{CanConvert: true}))
	b.on("/api/process-pdf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		reply(extracted)(w, r)
	})
	b.on("/api/user/profile", reply(models.UserProfile{SubscriptionTier: models.TierStarter, PagesRemaining: 7, PagesLimit: 400}))

	lane, record := accountLane(api, &models.UserProfile{SubscriptionTier: models.TierStarter, PagesRemaining: 10, PagesLimit: 400})
	rec := notify.NewRecorder()
	w := New(fixed(lane), rec, export.FormatXLSX, nil, zap.NewNop())

	snap, err := w.Submit(context.Background(), pdf("april.pdf"))
	require.NoError(t, err)
	assert.Equal(t, StepResults, snap.Step)
	assert.Equal(t, 3, snap.PagesUsed)
	assert.Equal(t, 1, b.count("/api/user/profile"))

	cur, _ := record.Current()
	assert.Equal(t, 7, cur.PagesRemaining)
	assert.False(t, record.IsProvisional())

	notes := rec.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "PDF processed successfully! Used 3 pages.", notes[0].Message)

	f, err := w.Export("")
	require.NoError(t, err)
	assert.Equal(t, "april-converted.xlsx", f.Name)
	f, err = w.Export(export.FormatFlat)
	require.NoError(t, err)
	assert.Equal(t, "april-transactions.csv", f.Name)
}

func TestWizard_InsufficientPagesFromBackendReturnsToUpload(t *testing.T) {
	for _, detail := range []string{
		"Insufficient pages. You have 2 pages remaining",
		"This document needs 5 pages but you only have 2 remaining",
	} {
		t.Run(detail, func(t *testing.T) {
			b, api := newBackend(t)
			b.on("/api/user/pages/check", reply(models.PagesCheckResponse{CanConvert: true}))
			b.on("/api/process-pdf", replyStatus(http.StatusPaymentRequired, detail))

			lane, _ := accountLane(api, &models.UserProfile{SubscriptionTier: models.TierStarter, PagesRemaining: 2, PagesLimit: 400})
			rec := notify.NewRecorder()
			w := New(fixed(lane), rec, "", nil, zap.NewNop())

			snap, err := w.Submit(context.Background(), pdf("may.pdf"))
			assert.ErrorIs(t, err, ErrQuotaExceeded)
			assert.Equal(t, Snapshot{Step: StepUpload}, snap)

			notes := rec.Drain()
			require.Len(t, notes, 1)
			assert.Equal(t, msgUpgrade, notes[0].Message)
			assert.Equal(t, notify.ActionUpgrade, notes[0].Action)
		})
	}
}

func TestWizard_BackendFailureGoesToError(t *testing.T) {
	b, api := newBackend(t)
	b.on("/api/user/pages/check", reply(models.PagesCheckResponse{CanConvert: true}))
	b.on("/api/process-pdf", replyStatus(http.StatusInternalServerError, "Could not read statement"))

	lane, _ := accountLane(api, &models.UserProfile{SubscriptionTier: models.TierStarter, PagesRemaining: 20, PagesLimit: 400})
	rec := notify.NewRecorder()
	w := New(fixed(lane), rec, "", nil, zap.NewNop())

	snap, err := w.Submit(context.Background(), pdf("june.pdf"))
	require.Error(t, err)
	assert.Equal(t, StepError, snap.Step)
	assert.Equal(t, "Could not read statement", snap.Error)
	assert.Equal(t, "june.pdf", snap.Filename)

	_, err = w.Submit(context.Background(), pdf("june.pdf"))
	assert.ErrorIs(t, err, ErrInvalidTransition, "error step only leaves through reset")

	_, err = w.Export("")
	assert.ErrorIs(t, err, ErrNoResults)

	require.NoError(t, w.Reset())
	assert.Equal(t, StepUpload, w.Step())
}

type stubLane struct {
	permit  error
	convert func() (*models.ProcessResponse, error)
	calls   int
}

func (s *stubLane) Name() string                                  { return "stub" }
func (s *stubLane) Permit(context.Context, int) error             { return s.permit }
func (s *stubLane) Settle(context.Context, *models.ProcessResponse) {}
func (s *stubLane) SuccessMessage(*models.ProcessResponse) string  { return "done" }
func (s *stubLane) Convert(context.Context, *models.Upload) (*models.ProcessResponse, error) {
	s.calls++
	return s.convert()
}

func TestWizard_ValidationBeforeNetwork(t *testing.T) {
	lane := &stubLane{convert: func() (*models.ProcessResponse, error) { return &extracted, nil }}
	rec := notify.NewRecorder()
	w := New(fixed(lane), rec, "", nil, zap.NewNop())

	tests := []struct {
		name string
		file *models.Upload
		want error
	}{
		{"empty", &models.Upload{Filename: "a.pdf"}, ErrEmptyFile},
		{"not a pdf", &models.Upload{Filename: "a.png", ContentType: "application/pdf", Data: []byte("\x89PNG\r\n\x1a\n0000")}, ErrNotPDF},
		{"too large", &models.Upload{Filename: "a.pdf", Data: append(append([]byte{}, pdfBytes...), make([]byte, MaxUploadSize)...)}, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := w.Submit(context.Background(), tt.file)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StepUpload, snap.Step)
			notes := rec.Drain()
			require.Len(t, notes, 1)
			assert.Equal(t, tt.want.Error(), notes[0].Message)
		})
	}
	assert.Zero(t, lane.calls)
}

func TestWizard_InvalidResponse(t *testing.T) {
	lane := &stubLane{convert: func() (*models.ProcessResponse, error) { return &models.ProcessResponse{Success: true}, nil }}
	w := New(fixed(lane), notify.NewRecorder(), "", nil, zap.NewNop())

	snap, err := w.Submit(context.Background(), pdf("x.pdf"))
	require.Error(t, err)
	assert.Equal(t, StepError, snap.Step)
	assert.Equal(t, msgInvalidResult, snap.Error)
}

func TestWizard_GateTransportErrorIsNotQuota(t *testing.T) {
	lane := &stubLane{permit: &quota.GateError{Message: "Unable to verify your page limit. Please try again.", Action: notify.ActionRetry}}
	rec := notify.NewRecorder()
	w := New(fixed(lane), rec, "", nil, zap.NewNop())

	_, err := w.Submit(context.Background(), pdf("x.pdf"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
	assert.Equal(t, notify.ActionRetry, rec.Drain()[0].Action)
	assert.Zero(t, lane.calls)
}

func TestWizard_TransportErrorShowsGenericMessage(t *testing.T) {
	cause := errors.New("send request: dial tcp 10.0.0.7:8000: connect: connection refused")
	lane := &stubLane{convert: func() (*models.ProcessResponse, error) { return nil, cause }}
	rec := notify.NewRecorder()
	w := New(fixed(lane), rec, "", nil, zap.NewNop())

	snap, err := w.Submit(context.Background(), pdf("x.pdf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, msgGeneric, err.Error())
	assert.Equal(t, StepError, snap.Step)
	assert.Equal(t, msgGeneric, snap.Error)

	notes := rec.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, msgGeneric, notes[0].Message)
	assert.NotContains(t, notes[0].Message, "dial tcp")
}

func TestWizard_StepChangesFollowTransitionTable(t *testing.T) {
	w := New(fixed(&stubLane{}), notify.NewRecorder(), "", nil, zap.NewNop())

	w.mu.Lock()
	assert.ErrorIs(t, w.moveTo(StepResults), ErrInvalidTransition, "upload cannot skip processing")
	assert.Equal(t, StepUpload, w.step)
	require.NoError(t, w.moveTo(StepProcessing))
	require.NoError(t, w.moveTo(StepResults))
	w.mu.Unlock()

	// results never becomes error
	w.fail("late failure")
	snap := w.Snapshot()
	assert.Equal(t, StepResults, snap.Step)
	assert.Empty(t, snap.Error)

	require.NoError(t, w.Reset())
	assert.Equal(t, StepUpload, w.Step())

	for tr := range validTransitions {
		assert.True(t, CanTransition(tr.From, tr.To))
	}
	assert.False(t, CanTransition(StepError, StepResults))
}

func TestWizard_SubmitWhileProcessingRefused(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	lane := &stubLane{convert: func() (*models.ProcessResponse, error) {
		close(entered)
		<-release
		return &extracted, nil
	}}
	w := New(fixed(lane), notify.NewRecorder(), "", nil, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background(), pdf("a.pdf"))
		done <- err
	}()
	<-entered

	assert.Equal(t, StepProcessing, w.Step())
	_, err := w.Submit(context.Background(), pdf("b.pdf"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, w.Reset(), ErrInvalidTransition)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StepResults, w.Step())
}

func TestIsInsufficientPages(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Insufficient pages for this document", true},
		{"You have 0 pages remaining", true},
		{"You need 4 pages, 1 remaining", true},
		{"Need a valid PDF", false},
		{"Failed to process PDF: 500", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsInsufficientPages(tt.msg), tt.msg)
	}
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StepUpload, StepProcessing))
	assert.True(t, CanTransition(StepResults, StepUpload))
	assert.False(t, CanTransition(StepUpload, StepResults))
	assert.False(t, CanTransition(StepError, StepResults))
}
