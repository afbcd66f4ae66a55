package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/portal"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
	"github.com/wenwu/saas-platform/statement-portal/internal/wizard"
)

const serviceName = "statement-portal"

type Server struct {
	router   *gin.Engine
	handler  *Handler
	admin    *AdminHandler
	cfg      *config.Config
	registry *portal.Registry
	cookies  sessions.Store
	limiter  *RateLimiter
	metrics  *metrics.Metrics
	log      *zap.Logger
	srv      *http.Server
}

func NewServer(cfg *config.Config, store storage.Store, registry *portal.Registry, m *metrics.Metrics, log *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	// uploads are capped before they reach the wizard
	router.MaxMultipartMemory = wizard.MaxUploadSize + 1<<20

	router.Use(gin.Recovery())
	router.Use(TracingMiddleware(serviceName))
	router.Use(RequestLogger(log.Named("http")))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	cookies := sessions.NewCookieStore([]byte(cfg.Session.CookieSecret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.IdleTTL / time.Second),
		HttpOnly: true,
		Secure:   cfg.Server.Mode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		router:   router,
		handler:  NewHandler(log),
		admin:    NewAdminHandler(store, registry, cfg.Payment.MarkerTTL, log),
		cfg:      cfg,
		registry: registry,
		cookies:  cookies,
		limiter:  NewRateLimiter(cfg.Server.RateLimit),
		metrics:  m,
		log:      log,
	}

	s.srv = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
		})
	})

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}

	// Visitor API - state keyed by the visitor cookie
	p := s.router.Group("/portal")
	p.Use(VisitorMiddleware(s.cookies, s.cfg.Session.CookieName, s.registry, s.log))
	p.Use(RateLimitMiddleware(s.limiter))
	{
		auth := p.Group("/auth")
		{
			auth.POST("/login", s.handler.Login)
			auth.POST("/signup", s.handler.Signup)
			auth.POST("/logout", s.handler.Logout)
			auth.POST("/forgot-password", s.handler.ForgotPassword)
			auth.GET("/oauth/url", s.handler.OAuthURL)
			auth.POST("/oauth/exchange", s.handler.OAuthExchange)
		}

		p.GET("/me", s.handler.GetMe)
		p.PUT("/me", s.handler.UpdateMe)
		p.DELETE("/me", s.handler.DeleteMe)

		p.POST("/anonymous/init", s.handler.InitAnonymous)

		conv := p.Group("/converter")
		{
			conv.GET("", s.handler.Converter)
			conv.POST("/upload", s.handler.Upload)
			conv.POST("/reset", s.handler.Reset)
			conv.GET("/export", s.handler.Export)
		}

		p.GET("/pricing/plans", s.handler.Plans)
		p.POST("/pricing/checkout", s.handler.Checkout)

		p.GET("/documents", s.handler.ListDocuments)
		p.GET("/documents/:id/download", s.handler.DownloadDocument)
		p.DELETE("/documents/:id", s.handler.DeleteDocument)

		p.GET("/invoices", s.handler.ListInvoices)
		p.POST("/invoices/sync", s.handler.SyncInvoices)

		p.GET("/notifications", s.handler.Notifications)
	}

	// Support API, off unless an admin key is configured
	if s.cfg.Server.AdminKey != "" {
		admin := s.router.Group("/admin")
		admin.Use(AdminAuthMiddleware(s.cfg.Server.AdminKey))
		{
			admin.GET("/visitors", s.admin.Stats)
			admin.GET("/visitors/:id/storage", s.admin.GetStorage)
			admin.GET("/visitors/:id/payment", s.admin.GetPayment)
			admin.DELETE("/visitors/:id/payment", s.admin.ClearPayment)
		}
	}
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured port until Shutdown.
func (s *Server) Run() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
