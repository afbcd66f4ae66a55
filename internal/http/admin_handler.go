package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/logger"
	"github.com/wenwu/saas-platform/statement-portal/internal/payment"
	"github.com/wenwu/saas-platform/statement-portal/internal/portal"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

// AdminHandler provides support endpoints for inspecting a visitor's
// persisted keys and clearing a stuck payment marker.
type AdminHandler struct {
	store     storage.Store
	registry  *portal.Registry
	markerTTL time.Duration
	log       *zap.Logger
}

func NewAdminHandler(store storage.Store, registry *portal.Registry, markerTTL time.Duration, log *zap.Logger) *AdminHandler {
	return &AdminHandler{store: store, registry: registry, markerTTL: markerTTL, log: log.Named("admin")}
}

// keys that should be masked in output
var sensitivePatterns = []string{"password", "hash", "secret", "api_key", "token", "private_key"}

func isSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var visitorKeys = []string{
	storage.KeyAuthToken,
	storage.KeyOAuthSessionToken,
	storage.KeyAuthType,
	storage.KeyBrowserFingerprint,
	storage.KeyPendingSubscriptionID,
	storage.KeyLastPaymentTime,
	storage.KeySubscriptionCheckRetries,
}

// Stats returns the number of visitors with live state
// GET /admin/visitors
func (h *AdminHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"live_visitors": h.registry.Len()})
}

// GetStorage returns the persisted keys of a visitor
// GET /admin/visitors/:id/storage
func (h *AdminHandler) GetStorage(c *gin.Context) {
	id := c.Param("id")
	store := storage.Namespace(h.store, id)

	type keyInfo struct {
		Key    string `json:"key"`
		Value  string `json:"value"`
		Masked bool   `json:"masked,omitempty"`
	}
	keys := []keyInfo{}
	for _, k := range visitorKeys {
		v, ok, err := store.Get(c.Request.Context(), k)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			continue
		}
		info := keyInfo{Key: k, Value: v}
		if isSensitiveKey(k) {
			info.Value = logger.MaskToken(v)
			info.Masked = true
		}
		keys = append(keys, info)
	}

	c.JSON(http.StatusOK, gin.H{"visitor": id, "keys": keys})
}

// GetPayment returns the pending payment marker of a visitor
// GET /admin/visitors/:id/payment
func (h *AdminHandler) GetPayment(c *gin.Context) {
	id := c.Param("id")
	markers := payment.NewMarkerStore(storage.Namespace(h.store, id), h.markerTTL)

	marker, live, err := markers.Inspect(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !live {
		c.JSON(http.StatusOK, gin.H{"visitor": id, "pending": false})
		return
	}
	attempts, err := markers.Attempts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"visitor":  id,
		"pending":  true,
		"marker":   marker,
		"attempts": attempts,
	})
}

// ClearPayment drops a stuck payment marker
// DELETE /admin/visitors/:id/payment
func (h *AdminHandler) ClearPayment(c *gin.Context) {
	id := c.Param("id")
	markers := payment.NewMarkerStore(storage.Namespace(h.store, id), h.markerTTL)
	if err := markers.Consume(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.Info("payment marker cleared", zap.String("visitor", id))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
