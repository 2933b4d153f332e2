package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/robfig/cron/v3"
	"github.com/spacehub/spacehub-api/cache"
	config "github.com/spacehub/spacehub-api/configs"
	"github.com/spacehub/spacehub-api/database"
	"github.com/spacehub/spacehub-api/events"
	"github.com/spacehub/spacehub-api/handlers"
	"github.com/spacehub/spacehub-api/jobs"
	"github.com/spacehub/spacehub-api/middleware"
	"github.com/spacehub/spacehub-api/notifications"
	"github.com/spacehub/spacehub-api/payments"
	"github.com/spacehub/spacehub-api/routes"
	"github.com/spacehub/spacehub-api/services"
	"github.com/spacehub/spacehub-api/storage"
	"github.com/spacehub/spacehub-api/websocket"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	if err := database.SeedAdmin(db, cfg, log); err != nil {
		return err
	}
	log.Info("database ready")

	redisClient, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, catalog cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus, err := events.NewBus(events.BusConfig{
		KafkaBrokers:  cfg.KafkaBrokers,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	}, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	signer, err := payments.NewSigner(cfg.Gateway.WebhookSecret, cfg.Gateway.SignatureHash)
	if err != nil {
		return err
	}
	gateway := payments.NewPaystackClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.Timeout)

	authService := services.NewAuthService(db, cfg.JWTSecret, cfg.TokenTTL, log)
	courseService := services.NewCourseService(db, cache.NewHelper(redisClient, "catalog:"), log)
	enrollmentService := services.NewEnrollmentService(db, bus, log)
	leadService := services.NewLeadService(db, log)
	reconciler := services.NewPaymentReconciler(db, gateway, signer, bus, services.ReconcilerConfig{
		Timeout:     cfg.Gateway.Timeout,
		CallbackURL: cfg.Gateway.CallbackURL,
		PublicKey:   cfg.Gateway.PublicKey,
	}, log)

	var (
		uploads *storage.Cloudinary
		signUp  handlers.UploadSigner
		files   services.FileUploader
	)
	if cfg.CloudinaryURL != "" {
		uploads, err = storage.NewCloudinary(cfg.CloudinaryURL)
		if err != nil {
			return err
		}
		signUp, files = uploads, uploads
	} else {
		log.Warn("CLOUDINARY_URL not set, uploads and certificates disabled")
	}

	renderer := services.NewChromeRenderer(30 * time.Second)
	defer renderer.Close()
	certificateService := services.NewCertificateService(db, renderer, files, log)

	var mailer notifications.Mailer = notifications.NopMailer{Logger: log}
	if brevo := notifications.NewBrevoService(cfg.BrevoAPIKey, cfg.EmailSender, cfg.EmailSenderName, log); brevo != nil {
		mailer = brevo
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	dispatcher := notifications.NewDispatcher(db, mailer, hub, certificateService, courseService, log)
	if err := dispatcher.Register(ctx, bus); err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "SpaceHub API",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: middleware.ErrorHandler(log),
	})

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		MaxAge:       86400,
	}))
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestid}\n",
	}))

	gate := middleware.NewAuthGate(cfg.JWTSecret, authService)
	routes.Setup(app, routes.Handlers{
		Auth:         handlers.NewAuthHandler(authService),
		Courses:      handlers.NewCourseHandler(courseService),
		Enrollments:  handlers.NewEnrollmentHandler(enrollmentService, reconciler),
		Payments:     handlers.NewPaymentHandler(reconciler, cfg.Gateway.SignatureHeader, log),
		Leads:        handlers.NewLeadHandler(leadService),
		Certificates: handlers.NewCertificateHandler(certificateService),
		Uploads:      handlers.NewUploadHandler(signUp),
		WS:           handlers.NewWSHandler(authService, hub, log),
		Health:       handlers.NewHealthHandler(db),
	}, gate)

	scheduler := cron.New()
	sweep := jobs.NewReconcileJob(reconciler, cfg.ReconcileSweepMinAge, log)
	if err := sweep.Schedule(ctx, scheduler, cfg.ReconcileSweepCron); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "port", cfg.Port, "environment", cfg.Environment)
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
