package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/webdiabetes/diabetes-api/internal/config"
	"github.com/webdiabetes/diabetes-api/internal/domain/consultation"
	"github.com/webdiabetes/diabetes-api/internal/domain/identity"
	"github.com/webdiabetes/diabetes-api/internal/domain/labs"
	"github.com/webdiabetes/diabetes-api/internal/domain/legacy"
	"github.com/webdiabetes/diabetes-api/internal/platform/auth"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
	"github.com/webdiabetes/diabetes-api/internal/platform/middleware"
	"github.com/webdiabetes/diabetes-api/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "diabetes-server",
		Short: "Diabetes clinical records API server",
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV") == "development")

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolOptions{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.New()
	metrics.ObservePool(func() *db.PoolStats { return db.GetPoolStats(pool) })

	a := newApp(cfg, logger, pool, metrics)

	created, err := a.identity.EnsureAdmin(logger.WithContext(ctx), cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure admin user")
	}
	if created {
		logger.Info().Str("username", cfg.AdminUsername).Msg("created admin user")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("app", cfg.AppName).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

type app struct {
	echo     *echo.Echo
	identity *identity.Service
}

// newApp builds repositories, services and routes on top of pool. Nothing
// touches the database until a request needs it.
func newApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, metrics *telemetry.Metrics) *app {
	tx := db.NewTransactor(pool)
	issuer := auth.NewIssuer(cfg.SecretKey, cfg.TokenTTL())

	// Repositories
	userRepo := identity.NewUserRepoPG(pool)
	patientRepo := identity.NewPatientRepoPG(pool)
	consultationRepo := consultation.NewConsultationRepoPG(pool)
	medicationRepo := consultation.NewMedicationRepoPG(pool)
	directory := consultation.NewPatientDirectoryPG(pool)
	labCatalogRepo := labs.NewCatalogRepoPG(pool)
	labResultRepo := labs.NewResultRepoPG(pool)

	// Services
	identitySvc := identity.NewService(userRepo, patientRepo, tx, issuer)
	identitySvc.SetLoginRecorder(metrics)
	consultationSvc := consultation.NewService(consultationRepo, medicationRepo, directory, tx)
	labsSvc := labs.NewService(labCatalogRepo, labResultRepo, consultationSvc, tx)
	consultationSvc.SetLabSource(labsSvc)
	legacySvc := legacy.NewService(
		legacy.NewConsultaRepoPG(pool),
		legacy.NewVisitRepoPG(pool),
		legacy.NewMedicationCatalogRepoPG(pool),
		legacy.NewDirectoryPG(pool),
		tx,
	)

	authStore := identity.NewAuthStore(userRepo, patientRepo)
	authenticate := auth.Authenticate(issuer, auth.NewResolver(authStore))
	authorizer := auth.NewAuthorizer(authStore)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger, cfg.IsDev())

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
		AllowCredentials: true,
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))

	// Operational endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "app": cfg.AppName})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// API groups. Authentication runs before a connection is pinned so
	// rejected requests never hold one. public is created after authed so
	// unmatched paths get its unauthenticated 404.
	conn := db.ConnMiddleware(pool)
	authed := e.Group("", authenticate, conn)
	public := e.Group("", conn)
	admin := e.Group("/admin", authenticate, auth.RequireAdmin(), conn)
	patient := e.Group("/patient", authenticate, auth.RequirePatient(), conn)

	identity.NewHandler(identitySvc).RegisterRoutes(public, admin)
	consultation.NewHandler(consultationSvc, authorizer).RegisterRoutes(authed, admin, patient)
	labs.NewHandler(labsSvc, authorizer).RegisterRoutes(authed)
	legacy.NewHandler(legacySvc).RegisterRoutes(admin, patient)

	return &app{echo: e, identity: identitySvc}
}
