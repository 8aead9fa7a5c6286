package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adamscao/breakglass/internal/api/handlers"
	"github.com/adamscao/breakglass/internal/api/middleware"
	"github.com/adamscao/breakglass/internal/config"
	"github.com/adamscao/breakglass/internal/credential"
	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/report"
)

// ServiceName names the server in traces
const ServiceName = "breakglassd"

// Services are the components the HTTP API exposes
type Services struct {
	Manager   *credential.Manager
	Finalizer *report.Finalizer
	Ledger    *ledger.Ledger
	DB        handlers.Pinger     // optional, used by the readiness probe
	Gatherer  prometheus.Gatherer // optional, served at the metrics path
	Logger    *slog.Logger
	Version   string
}

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, svc Services) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Create handlers
	requestHandler := handlers.NewRequestHandler(svc.Manager, logger)
	credentialHandler := handlers.NewCredentialHandler(svc.Manager, logger)
	reportHandler := handlers.NewReportHandler(svc.Finalizer, logger)
	auditHandler := handlers.NewAuditHandler(svc.Ledger, logger)
	healthHandler := handlers.NewHealthHandler(svc.DB, svc.Ledger, svc.Version)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Request lifecycle
		requests := v1.Group("/requests")
		{
			requests.POST("", requestHandler.Create)
			requests.GET("/:id", requestHandler.Get)
			requests.POST("/:id/approve", requestHandler.Approve)
		}

		// Token redemption
		credentials := v1.Group("/credentials")
		{
			credentials.POST("/retrieve", credentialHandler.Retrieve)
		}

		// Health probes
		health := v1.Group("/health")
		{
			health.GET("/live", healthHandler.Live)
			health.GET("/ready", healthHandler.Ready)
		}

		// Admin endpoints (require admin token)
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Admin.Token))
		{
			admin.GET("/requests", requestHandler.List)
			admin.POST("/requests/:id/deny", requestHandler.Deny)
			admin.POST("/requests/:id/revoke", requestHandler.Revoke)

			admin.POST("/reports/:id/finalize", reportHandler.Finalize)
			admin.POST("/reports/:id/verify", reportHandler.Verify)
			admin.GET("/reports/:id/trail", reportHandler.Trail)

			admin.GET("/audit/log", auditHandler.Log)
			admin.GET("/audit/entries/:tx", auditHandler.Entry)
			admin.GET("/audit/verify", auditHandler.Verify)
		}
	}

	// Health check
	router.GET("/health", healthHandler.Live)

	if cfg.Metrics.Enabled && svc.Gatherer != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{})))
	}

	s := &Server{
		router: router,
		config: cfg,
	}
	s.http = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the traced HTTP handler
func (s *Server) Handler() http.Handler {
	return middleware.Tracing(ServiceName)(s.router)
}

// Run starts the HTTP server and blocks until it stops. A graceful
// Shutdown is not an error.
func (s *Server) Run() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
