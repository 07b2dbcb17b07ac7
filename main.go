// Package main provides the main entry point for the DepoSync deposit integration service
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lettable/deposync/app/handlers"
	"github.com/lettable/deposync/app/middleware"
	"github.com/lettable/deposync/app/router"
	"github.com/lettable/deposync/app/scheduler"
	"github.com/lettable/deposync/app/services"
	businessflow "github.com/lettable/deposync/business_flow"
	"github.com/lettable/deposync/config"
	"github.com/lettable/deposync/repository"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting DepoSync application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializePMSClient creates the property management system client based on configuration
func initializePMSClient(cfg *config.ProductionConfig) services.PMSClient {
	if cfg.PMS.BaseURL == "mock" {
		return services.NewMockPMSClient()
	}
	return services.NewPMSClient(&cfg.PMS)
}

// initializeSchemeClient creates the deposit scheme client based on configuration
func initializeSchemeClient(cfg *config.ProductionConfig) services.SchemeClient {
	if cfg.Scheme.BaseURL == "mock" {
		return services.NewMockSchemeClient()
	}
	return services.NewSchemeClient(&cfg.Scheme)
}

// initializePostcodeClient creates the postcode region lookup client based on configuration
func initializePostcodeClient(cfg *config.ProductionConfig) services.PostcodeClient {
	if cfg.Postcode.BaseURL == "mock" {
		return services.NewMockPostcodeClient()
	}
	return services.NewPostcodeClient(&cfg.Postcode)
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		cancel := startCacheHealthMonitor(context.Background(), rc, 30*time.Second)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Initialize repositories
	jobRepo := repository.NewIntegrationJobRepository(db)
	archiveRepo := repository.NewArchivedJobRepository(db)
	auditRepo := repository.NewAuditRecordRepository(db)

	// Initialize services
	pmsClient := initializePMSClient(cfg)
	schemeClient := initializeSchemeClient(cfg)
	postcodeClient := initializePostcodeClient(cfg)
	auditSink := services.NewAuditSink(auditRepo, log.Default())

	// Initialize token service
	tokenService, err := services.NewTokenService(
		cfg.JWT.SecretKey,
		cfg.JWT.TokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Initialize flows
	archivalFlow := businessflow.NewArchivalFlow(jobRepo, archiveRepo, db)

	sagaFlow := businessflow.NewDepositSagaFlow(
		jobRepo,
		archivalFlow,
		pmsClient,
		schemeClient,
		postcodeClient,
		businessflow.DefaultErrorClassifier(),
		auditSink,
		cfg,
		rc,
		log.Default(),
	)

	tickFlow := businessflow.NewTickFlow(
		jobRepo,
		sagaFlow,
		archivalFlow,
		cfg,
		log.Default(),
	)

	adminFlow := businessflow.NewJobAdminFlow(jobRepo, archiveRepo)

	// Initialize handlers
	integrationHandler := handlers.NewIntegrationHandler(sagaFlow, tickFlow, adminFlow)

	// Initialize auth middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	// Initialize router
	appRouter := router.NewFiberRouter(cfg, integrationHandler, authMiddleware)

	if cfg.Scheduler.TickEnabled {
		worker := scheduler.NewRetryWorker(tickFlow, cfg.Scheduler, cfg.Logging)
		stopWorker := worker.Start(context.Background())
		stopFuncs = append(stopFuncs, stopWorker)
	}

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
