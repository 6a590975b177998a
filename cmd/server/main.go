package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/config"
	"github.com/travelcore/booking-core/internal/database"
	"github.com/travelcore/booking-core/internal/events"
	"github.com/travelcore/booking-core/internal/handlers"
	"github.com/travelcore/booking-core/internal/middleware"
	"github.com/travelcore/booking-core/internal/services"
	"github.com/travelcore/booking-core/pkg/delivery"
	"github.com/travelcore/booking-core/pkg/gateway"
	"github.com/travelcore/booking-core/pkg/jwt"
	"github.com/travelcore/booking-core/pkg/validator"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting booking core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection
	logger.WithField("driver", cfg.Database.Driver).Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		logger.Fatalf("Failed to apply schema: %v", err)
	}
	logger.Info("Database connection established")

	// Repositories
	auditRepo := database.NewAuditRepository(db.DB)
	ledgerRepo := database.NewLedgerRepository(db.DB)
	bookingRepo := database.NewBookingRepository(db.DB)
	attemptRepo := database.NewPaymentAttemptRepository(db.DB)

	// Collaborators
	clk := clock.NewSystem()
	identifiers := validator.NewIdentifierValidator(cfg.Verification.DefaultCountryCode)
	identityTokens := jwt.NewService(cfg.Identity.Secret, cfg.Identity.TokenTTL)
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.Payment.BaseURL,
		MerchantKey:    cfg.Payment.MerchantKey,
		MerchantSecret: cfg.Payment.MerchantSecret,
		ReturnURL:      cfg.Payment.ReturnURL,
		WebhookURL:     cfg.Payment.WebhookURL,
		Timeout:        cfg.Payment.Timeout,
	}, logger)
	sender := newCodeSender(cfg.Delivery, logger)

	// Booking events
	watermillLogger := events.NewLogrusAdapter(logger)
	transport, err := events.NewTransport(ctx, cfg.Events, watermillLogger)
	if err != nil {
		logger.Fatalf("Failed to initialize event transport: %v", err)
	}
	defer transport.Close()

	eventRouter, err := events.NewRouter(transport, cfg.Events.TopicPrefix, watermillLogger, events.DefaultHandlers(logger)...)
	if err != nil {
		logger.Fatalf("Failed to initialize event router: %v", err)
	}
	publisher := events.NewPublisher(transport.Publisher, cfg.Events.TopicPrefix)

	// Initialize services
	logger.Info("Initializing services...")
	auditService := services.NewAuditService(auditRepo, cfg.Audit.Enabled, logger, clk)
	rateLimitService := services.NewRateLimitService(db, cfg.RateLimit, clk)
	verificationService := services.NewVerificationService(services.VerificationDeps{
		DB:          db,
		Identifiers: identifiers,
		Sender:      sender,
		Tokens:      identityTokens,
		Limiter:     rateLimitService,
		Audit:       auditService,
		Logger:      logger,
		Clock:       clk,
	}, cfg.Verification, cfg.Delivery)

	ledger := services.NewCapacityLedger(ledgerRepo, cfg.Booking.HoldTTL, logger, clk)
	payments := services.NewPaymentOrchestrator(attemptRepo, gatewayClient, auditService, cfg.Payment.Timeout, logger, clk)
	bookingService := services.NewBookingService(services.BookingDeps{
		Bookings:    bookingRepo,
		Ledger:      ledger,
		Payments:    payments,
		Tokens:      identityTokens,
		Identifiers: identifiers,
		Events:      publisher,
		Audit:       auditService,
		Logger:      logger,
		Clock:       clk,
	}, cfg.Booking)
	payments.SetSettler(bookingService)

	expirationService := services.NewExpirationService(bookingService, ledger, cfg.Booking.SweepInterval, cfg.Booking.SweepBatchSize, logger)
	cronService := services.NewCronService(verificationService, rateLimitService, auditService, cfg.Audit.Retention, logger)
	logger.Info("Services initialized")

	// Handlers
	verificationHandler := handlers.NewVerificationHandler(verificationService, logger)
	bookingHandler := handlers.NewBookingHandler(bookingService, payments, logger)
	inventoryHandler := handlers.NewInventoryHandler(ledger, logger)
	paymentHandler := handlers.NewPaymentHandler(payments, logger)
	healthHandler := handlers.NewHealthHandler(db)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.ClientInfo())

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORS.AllowedOrigins,
		AllowMethods:  cfg.CORS.AllowedMethods,
		AllowHeaders:  cfg.CORS.AllowedHeaders,
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		verification := v1.Group("/verification")
		{
			verification.POST("/request", verificationHandler.RequestCode)
			verification.POST("/verify", verificationHandler.VerifyCode)
		}

		v1.GET("/inventory/:id/availability", inventoryHandler.GetAvailability)

		bookings := v1.Group("/bookings")
		{
			bookings.POST("", bookingHandler.CreateBooking)
			bookings.GET("/:id", bookingHandler.GetBooking)
			bookings.POST("/:id/submit", middleware.RequireIdentityToken(), bookingHandler.SubmitBooking)
			bookings.POST("/:id/payment", bookingHandler.BeginPayment)
		}

		paymentRoutes := v1.Group("/payments")
		{
			paymentRoutes.POST("/webhook", paymentHandler.Webhook)
			paymentRoutes.POST("/callback", paymentHandler.Callback)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting event router")
		return eventRouter.Run(gctx)
	})

	g.Go(func() error {
		<-eventRouter.Running()
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return expirationService.Run(gctx)
	})

	g.Go(func() error {
		return cronService.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server forced to shutdown: %v", err)
		}
		if err := verificationService.WaitForDeliveries(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Pending code deliveries abandoned")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}

	logger.Info("Server exited successfully")
}

// newCodeSender routes codes to the log in dev mode and to the SMS and email
// providers in production
func newCodeSender(cfg config.DeliveryConfig, logger *logrus.Logger) delivery.Sender {
	if cfg.Mode != "production" {
		logSender := delivery.NewLogSender(logger)
		return delivery.NewRouter(map[delivery.Channel]delivery.Sender{
			delivery.ChannelSMS:   logSender,
			delivery.ChannelEmail: logSender,
		})
	}

	client := &http.Client{Timeout: cfg.Timeout}
	return delivery.NewRouter(map[delivery.Channel]delivery.Sender{
		delivery.ChannelSMS:   delivery.NewSMSSender(cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSSenderID, client, logger),
		delivery.ChannelEmail: delivery.NewEmailSender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, client, logger),
	})
}
