package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/reelvault/backend/internal/config"
	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/models"
	"github.com/reelvault/backend/internal/services"
	"github.com/reelvault/backend/internal/session"
	"github.com/reelvault/backend/pkg/logger"
	"github.com/reelvault/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	redis    *miniredis.Miniredis
	sessions *session.Store
	devices  *services.DeviceTrustService
	abuse    *services.AbuseGuard
	cfg      *config.Config
}

var testSetupOnce sync.Once

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		Secret:            "test-secret",
		ChallengeTTL:      5 * time.Minute,
		PendingSessionTTL: 10 * time.Minute,
		WebSessionIdleTTL: 24 * time.Hour,
		WebSessionMaxTTL:  14 * 24 * time.Hour,
		APISessionTTL:     1 * time.Hour,
		DeviceTrustTTL:    30 * 24 * time.Hour,
		FailureWindow:     15 * time.Minute,
		IPThreshold:       5,
		AccountThreshold:  5,
		LockoutThreshold:  10,
		LockoutDuration:   30 * time.Minute,
		StoreTimeout:      3 * time.Second,
		CleanupInterval:   10 * time.Minute,
		FailureRetention:  24 * time.Hour,
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureEncryption("test-secret")
		utils.ConfigureRoleHint("test-secret", 24*time.Hour)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Credential{},
		&models.Challenge{},
		&models.MFAConfig{},
		&models.TrustedDevice{},
		&models.LoginFailure{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = redisClient.Close()
	})

	cfg := &config.Config{
		Server: config.ServerConfig{
			FrontendURL: "http://localhost:3001",
		},
		Auth: testAuthConfig(),
	}

	sessions := session.NewStore(redisClient, cfg.Auth)
	challenges := services.NewChallengeService(db, cfg.Auth.ChallengeTTL)
	abuse := services.NewAbuseGuard(db, cfg.Auth)
	devices := services.NewDeviceTrustService(db, cfg.Auth.DeviceTrustTTL)

	authHandler := NewAuthHandler(db, sessions, abuse, devices, cfg)
	challengeHandler := NewChallengeHandler(challenges, sessions, cfg)
	credentialsHandler := NewCredentialsHandler(db)
	mfaHandler := NewMFAHandler(db, devices)
	usersHandler := NewUsersHandler(db, sessions)
	authMiddleware := middleware.NewAuthMiddleware(db, sessions)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/login/2fa", authMiddleware.RequirePendingWebSession, authHandler.CompleteSecondFactor)
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
	v1.Post("/auth/challenge", challengeHandler.RequestChallenge)
	v1.Post("/auth/verify", challengeHandler.VerifyChallenge)
	v1.Get("/me", authMiddleware.RequireAPISession, APIMe)

	return &testEnv{
		app:      app,
		db:       db,
		redis:    mr,
		sessions: sessions,
		devices:  devices,
		abuse:    abuse,
		cfg:      cfg,
	}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) *models.User {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	return user
}

// loginTestUser logs in over HTTP and returns the web session cookie value.
func loginTestUser(t *testing.T, env *testEnv, email, password string) string {
	t.Helper()

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login",
		map[string]any{"email": email, "password": password}, nil)
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	cookie := extractCookie(resp, middleware.WebSessionCookie)
	if cookie == "" {
		t.Fatalf("login did not set a session cookie")
	}
	return cookie
}

func sessionHeaders(sessionID string) map[string]string {
	return map[string]string{
		"Cookie": middleware.WebSessionCookie + "=" + sessionID,
	}
}

func extractCookie(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
