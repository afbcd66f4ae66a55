package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/anonymous"
	"github.com/wenwu/saas-platform/statement-portal/internal/client"
	"github.com/wenwu/saas-platform/statement-portal/internal/export"
	"github.com/wenwu/saas-platform/statement-portal/internal/models"
	"github.com/wenwu/saas-platform/statement-portal/internal/notify"
	"github.com/wenwu/saas-platform/statement-portal/internal/payment"
	"github.com/wenwu/saas-platform/statement-portal/internal/portal"
	"github.com/wenwu/saas-platform/statement-portal/internal/quota"
	"github.com/wenwu/saas-platform/statement-portal/internal/session"
	"github.com/wenwu/saas-platform/statement-portal/internal/wizard"
)

type Handler struct {
	log *zap.Logger
}

func NewHandler(log *zap.Logger) *Handler {
	return &Handler{log: log.Named("handler")}
}

// ==================== Auth ====================

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /portal/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.authResult(c, portalOf(c).Auth.Login(c.Request.Context(), req.Email, req.Password), http.StatusUnauthorized)
}

// Signup handles POST /portal/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var form session.SignupForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.authResult(c, portalOf(c).Auth.Signup(c.Request.Context(), &form), http.StatusBadRequest)
}

// Logout handles POST /portal/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, portalOf(c).Auth.Logout(c.Request.Context()))
}

// ForgotPassword handles POST /portal/auth/forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.authResult(c, portalOf(c).Auth.ForgotPassword(c.Request.Context(), req.Email), http.StatusBadRequest)
}

type oauthExchangeRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// OAuthExchange handles POST /portal/auth/oauth/exchange with the session id
// taken from the callback fragment.
func (h *Handler) OAuthExchange(c *gin.Context) {
	var req oauthExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.authResult(c, portalOf(c).Auth.ExchangeOAuth(c.Request.Context(), req.SessionID), http.StatusUnauthorized)
}

// OAuthURL handles GET /portal/auth/oauth/url
func (h *Handler) OAuthURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": portalOf(c).Auth.OAuthURL()})
}

func (h *Handler) authResult(c *gin.Context, res session.Result, failStatus int) {
	if !res.Success {
		c.JSON(failStatus, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ==================== Account ====================

// GetMe handles GET /portal/me
func (h *Handler) GetMe(c *gin.Context) {
	c.JSON(http.StatusOK, portalOf(c).Quota())
}

// UpdateMe handles PUT /portal/me
func (h *Handler) UpdateMe(c *gin.Context) {
	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := portalOf(c)
	if err := p.Profile.Update(c.Request.Context(), &req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "quota": p.Quota()})
}

// DeleteMe handles DELETE /portal/me
func (h *Handler) DeleteMe(c *gin.Context) {
	if err := portalOf(c).Profile.Delete(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ==================== Converter ====================

// InitAnonymous handles POST /portal/anonymous/init with the browser signals
// the fingerprint is derived from.
func (h *Handler) InitAnonymous(c *gin.Context) {
	var signals anonymous.Signals
	if err := c.ShouldBindJSON(&signals); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := portalOf(c)
	if p.Auth.Holder().Authenticated() {
		c.JSON(http.StatusOK, gin.H{"anonymous": false, "quota": p.Quota()})
		return
	}
	status, err := p.Anonymous.Init(c.Request.Context(), &signals)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Unable to check free conversion status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"anonymous":   true,
		"fingerprint": p.Anonymous.Fingerprint(c.Request.Context()),
		"status":      status,
		"quota":       p.Quota(),
	})
}

// Converter handles GET /portal/converter, the page load of the converter view.
func (h *Handler) Converter(c *gin.Context) {
	page := portalOf(c).Load(c.Request.Context(), c.Request.URL)
	resp := gin.H{"page": page}
	if page.Redirect.Triggered {
		resp["replace_url"] = page.Redirect.CleanURL
		resp["replace_after_ms"] = page.Redirect.CleanupAfter.Milliseconds()
	}
	c.JSON(http.StatusOK, resp)
}

// Upload handles POST /portal/converter/upload with a multipart "file" field.
func (h *Handler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}
	defer f.Close()

	// one byte past the limit is enough to reject it
	data, err := io.ReadAll(io.LimitReader(f, wizard.MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}

	p := portalOf(c)
	snap, err := p.Wizard.Submit(c.Request.Context(), &models.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	resp := gin.H{
		"wizard":        snap,
		"quota":         p.Quota(),
		"notifications": p.Notes.Drain(),
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(uploadStatus(err), resp)
}

func uploadStatus(err error) int {
	var gate *quota.GateError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, wizard.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, wizard.ErrNotPDF), errors.Is(err, wizard.ErrEmptyFile):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, wizard.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, wizard.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &gate):
		return http.StatusForbidden
	}
	return http.StatusBadGateway
}

// Reset handles POST /portal/converter/reset
func (h *Handler) Reset(c *gin.Context) {
	p := portalOf(c)
	if err := p.Wizard.Reset(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "wizard": p.Wizard.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wizard": p.Wizard.Snapshot()})
}

// Export handles GET /portal/converter/export?format=csv|flat|xlsx
func (h *Handler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	file, err := portalOf(c).Wizard.Export(format)
	if err != nil {
		if errors.Is(err, wizard.ErrNoResults) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.Error("export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build export"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, file.Name))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// ==================== Pricing ====================

// Plans handles GET /portal/pricing/plans
func (h *Handler) Plans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": models.Plans})
}

type checkoutRequest struct {
	PlanID          string `json:"plan_id" binding:"required"`
	BillingInterval string `json:"billing_interval" binding:"omitempty,oneof=monthly annual"`
}

// Checkout handles POST /portal/pricing/checkout. The pending marker is saved
// before the checkout URL is returned.
func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := portalOf(c)
	resp, err := p.Checkout.Start(c.Request.Context(), req.PlanID, req.BillingInterval)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"checkout_url": resp.CheckoutURL, "session_id": resp.SessionID})
	case errors.Is(err, payment.ErrSignInRequired):
		notify.WithAction(p.Notes, notify.LevelError, err.Error(), notify.ActionSignup)
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "notifications": p.Notes.Drain()})
	case errors.Is(err, payment.ErrContactSales):
		notify.WithAction(p.Notes, notify.LevelInfo, err.Error(), notify.ActionContact)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "notifications": p.Notes.Drain()})
	case errors.Is(err, payment.ErrUnknownPlan):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Warn("checkout failed", zap.Error(err))
		notify.Error(p.Notes, "Failed to start checkout. Please try again.")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to start checkout. Please try again.", "notifications": p.Notes.Drain()})
	}
}

// ==================== Documents and invoices ====================

// ListDocuments handles GET /portal/documents
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := portalOf(c).Documents.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// DownloadDocument handles GET /portal/documents/:id/download
func (h *Handler) DownloadDocument(c *gin.Context) {
	id := c.Param("id")
	data, err := portalOf(c).Documents.Download(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	name := c.DefaultQuery("filename", id)
	doc := models.Document{Filename: name}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, doc.DownloadName()))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// DeleteDocument handles DELETE /portal/documents/:id
func (h *Handler) DeleteDocument(c *gin.Context) {
	p := portalOf(c)
	if err := p.Documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	notify.Success(p.Notes, "Document deleted")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListInvoices handles GET /portal/invoices
func (h *Handler) ListInvoices(c *gin.Context) {
	invoices, err := portalOf(c).Invoices.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// SyncInvoices handles POST /portal/invoices/sync
func (h *Handler) SyncInvoices(c *gin.Context) {
	resp, err := portalOf(c).Invoices.Sync(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Notifications handles GET /portal/notifications and drains the queue.
func (h *Handler) Notifications(c *gin.Context) {
	notes := portalOf(c).Notes.Drain()
	if notes == nil {
		notes = []notify.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notes})
}

// fail maps component errors to responses.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, portal.ErrSignedOut), errors.Is(err, payment.ErrSignInRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, portal.ErrFullNameRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		if status := client.StatusOf(err); status == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.log.Warn("backend call failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "The service is temporarily unavailable. Please try again."})
	}
}
