package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/reelvault/backend/internal/config"
	"github.com/reelvault/backend/internal/database"
	"github.com/reelvault/backend/internal/handlers"
	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/services"
	"github.com/reelvault/backend/internal/session"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureEncryption(cfg.Auth.Secret)
	utils.ConfigureRoleHint(cfg.Auth.Secret, cfg.Auth.WebSessionMaxTTL)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	sessions := session.NewStore(redisClient, cfg.Auth)
	challenges := services.NewChallengeService(db, cfg.Auth.ChallengeTTL)
	abuse := services.NewAbuseGuard(db, cfg.Auth)
	devices := services.NewDeviceTrustService(db, cfg.Auth.DeviceTrustTTL)

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	cleanup := services.NewCleanupService(challenges, abuse, devices, sessions,
		cfg.Auth.CleanupInterval, cfg.Auth.FailureRetention)
	cleanup.Start(cleanupCtx)

	authHandler := handlers.NewAuthHandler(db, sessions, abuse, devices, cfg)
	challengeHandler := handlers.NewChallengeHandler(challenges, sessions, cfg)
	credentialsHandler := handlers.NewCredentialsHandler(db)
	mfaHandler := handlers.NewMFAHandler(db, devices)
	usersHandler := handlers.NewUsersHandler(db, sessions)

	authMiddleware := middleware.NewAuthMiddleware(db, sessions)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	// Coarse per-IP throttle in front of the unauthenticated entry points.
	// The abuse guard does the accurate, durable accounting behind it.
	loginLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: 1 * time.Minute,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", loginLimiter, authHandler.Register)
	authRoutes.Post("/login", loginLimiter, authHandler.Login)
	authRoutes.Post("/login/2fa", loginLimiter, authMiddleware.RequirePendingWebSession, authHandler.CompleteSecondFactor)
	authRoutes.Post("/logout", authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireWebSession, authHandler.Me)
	authRoutes.Put("/password", authMiddleware.RequireWebSession, authHandler.ChangePassword)
	authRoutes.Get("/sessions", authMiddleware.RequireWebSession, authHandler.ListSessions)
	authRoutes.Delete("/sessions/others", authMiddleware.RequireWebSession, authHandler.RevokeOtherSessions)
	authRoutes.Delete("/sessions/:id", authMiddleware.RequireWebSession, authHandler.RevokeSession)

	credentialRoutes := authRoutes.Group("/credentials", authMiddleware.RequireWebSession)
	credentialRoutes.Post("/", credentialsHandler.Create)
	credentialRoutes.Get("/", credentialsHandler.List)
	credentialRoutes.Put("/:id", credentialsHandler.Update)
	credentialRoutes.Post("/:id/activate", credentialsHandler.Activate)
	credentialRoutes.Delete("/:id", credentialsHandler.Revoke)

	mfaRoutes := authRoutes.Group("/mfa", authMiddleware.RequireWebSession)
	mfaRoutes.Get("/", mfaHandler.Status)
	mfaRoutes.Post("/totp/setup", mfaHandler.TOTPSetup)
	mfaRoutes.Post("/totp/verify", mfaHandler.TOTPVerifySetup)
	mfaRoutes.Post("/totp/disable", mfaHandler.TOTPDisable)
	mfaRoutes.Post("/recovery/regenerate", mfaHandler.RegenerateRecovery)
	mfaRoutes.Get("/devices", mfaHandler.ListTrustedDevices)
	mfaRoutes.Delete("/devices/:id", mfaHandler.RevokeTrustedDevice)

	userRoutes := api.Group("/users", authMiddleware.RequireWebSession, middleware.AdminOnly)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)
	userRoutes.Post("/:id/lock", usersHandler.Lock)
	userRoutes.Post("/:id/unlock", usersHandler.Unlock)
	userRoutes.Delete("/:id", usersHandler.Delete)

	v1 := app.Group("/api/v1")
	v1.Post("/auth/challenge", loginLimiter, challengeHandler.RequestChallenge)
	v1.Post("/auth/verify", loginLimiter, challengeHandler.VerifyChallenge)
	v1.Get("/me", authMiddleware.RequireAPISession, handlers.APIMe)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		stopCleanup()
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
