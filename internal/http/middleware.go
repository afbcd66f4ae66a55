package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wenwu/saas-platform/statement-portal/internal/portal"
)

const (
	ctxVisitorID = "visitorID"
	ctxPortal    = "portal"

	sessionVisitorKey = "visitor_id"
)

// RateLimiter keeps a token bucket per key. Buckets of keys that go quiet are
// dropped after ten minutes.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *cache.Cache
}

// NewRateLimiter allows perMinute requests per key with bursts of the same size.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		buckets: cache.New(10*time.Minute, 5*time.Minute),
	}
}

// Allow reports whether a request for key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if v, ok := rl.buckets.Get(key); ok {
		rl.buckets.SetDefault(key, v)
		return v.(*rate.Limiter).Allow()
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.buckets.Add(key, l, cache.DefaultExpiration); err != nil {
		// lost the race to another request with the same key
		if v, ok := rl.buckets.Get(key); ok {
			l = v.(*rate.Limiter)
		}
	}
	return l.Allow()
}

// RateLimitMiddleware limits per visitor, or per client IP before a visitor is known.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ctxVisitorID)
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// VisitorMiddleware identifies the visitor by a signed cookie, issuing one on
// the first request and renewing it on each later one, and attaches the
// visitor's portal to the context.
func VisitorMiddleware(store sessions.Store, cookieName string, registry *portal.Registry, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := store.Get(c.Request, cookieName)
		if err != nil {
			// tampered or signed with an old secret
			log.Debug("discarding visitor cookie", zap.Error(err))
		}

		id, _ := sess.Values[sessionVisitorKey].(string)
		issued := id == ""
		if issued {
			id = portal.NewID()
			sess.Values[sessionVisitorKey] = id
		}
		// Saved on every request so MaxAge counts from the last activity.
		if err := sess.Save(c.Request, c.Writer); err != nil {
			log.Error("failed to save visitor cookie", zap.Error(err))
			if issued {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
				c.Abort()
				return
			}
		}

		c.Set(ctxVisitorID, id)
		c.Set(ctxPortal, registry.Get(c.Request.Context(), id))
		c.Next()
	}
}

func portalOf(c *gin.Context) *portal.Portal {
	return c.MustGet(ctxPortal).(*portal.Portal)
}

// AdminAuthMiddleware validates admin API key
func AdminAuthMiddleware(adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-Admin-API-Key")
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(adminAPIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized admin access"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("visitor", c.GetString(ctxVisitorID)),
		)
	}
}

// TracingMiddleware opens a server span per request on the global tracer
// provider. With tracing disabled the provider is a no-op.
func TracingMiddleware(service string) gin.HandlerFunc {
	tracer := otel.Tracer(service)
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(c.Request.Context(), fmt.Sprintf("%s %s", c.Request.Method, route),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if id := c.GetString(ctxVisitorID); id != "" {
			span.SetAttributes(attribute.String("portal.visitor", id))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
