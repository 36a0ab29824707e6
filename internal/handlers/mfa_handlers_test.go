package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/reelvault/backend/internal/middleware"
	"github.com/reelvault/backend/internal/models"
)

func TestTOTPSetupAndVerify(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)
	cookie := loginTestUser(t, env, "user@example.com", "password123")

	setupResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/setup", nil, sessionHeaders(cookie))
	assertStatus(t, setupResp, http.StatusOK)
	setupBody := decodeJSONMap(t, setupResp)
	setupData, _ := setupBody["data"].(map[string]any)
	secret, _ := setupData["secret"].(string)
	if secret == "" {
		t.Fatalf("setup returned no secret: %+v", setupBody)
	}

	code := currentTOTPCode(t, secret)
	verifyResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/verify",
		map[string]any{"code": code}, sessionHeaders(cookie))
	assertStatus(t, verifyResp, http.StatusOK)
	verifyBody := decodeJSONMap(t, verifyResp)
	verifyData, _ := verifyBody["data"].(map[string]any)
	codes, _ := verifyData["recoveryCodes"].([]any)
	if len(codes) != 10 {
		t.Fatalf("expected 10 recovery codes, got %d", len(codes))
	}

	statusResp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/mfa/", nil, sessionHeaders(cookie))
	assertStatus(t, statusResp, http.StatusOK)
	statusBody := decodeJSONMap(t, statusResp)
	statusData, _ := statusBody["data"].(map[string]any)
	if enabled, _ := statusData["totpEnabled"].(bool); !enabled {
		t.Fatalf("expected totpEnabled=true, got %+v", statusBody)
	}
	if remaining, _ := statusData["recoveryCodesRemaining"].(float64); remaining != 10 {
		t.Fatalf("expected 10 recovery codes remaining, got %v", remaining)
	}
}

func TestTOTPVerifyWrongCode(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)
	cookie := loginTestUser(t, env, "user@example.com", "password123")

	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/setup", nil, sessionHeaders(cookie))
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	verifyResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/verify",
		map[string]any{"code": "000000"}, sessionHeaders(cookie))
	assertStatus(t, verifyResp, http.StatusBadRequest)
	verifyResp.Body.Close()

	var cfg models.MFAConfig
	if err := env.db.First(&cfg, "totp_enabled = ?", true).Error; err == nil {
		t.Fatal("TOTP must not be enabled after a failed verification")
	}
}

func TestRecoveryCodeConsumedOnLogin(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)
	cookie := loginTestUser(t, env, "user@example.com", "password123")

	setupResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/setup", nil, sessionHeaders(cookie))
	assertStatus(t, setupResp, http.StatusOK)
	setupData, _ := decodeJSONMap(t, setupResp)["data"].(map[string]any)
	secret, _ := setupData["secret"].(string)

	verifyResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/verify",
		map[string]any{"code": currentTOTPCode(t, secret)}, sessionHeaders(cookie))
	assertStatus(t, verifyResp, http.StatusOK)
	verifyData, _ := decodeJSONMap(t, verifyResp)["data"].(map[string]any)
	codes, _ := verifyData["recoveryCodes"].([]any)
	if len(codes) == 0 {
		t.Fatal("expected recovery codes")
	}
	recoveryCode, _ := codes[0].(string)

	// Fresh login, finish the second factor with a recovery code.
	loginResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login",
		map[string]any{"email": "user@example.com", "password": "password123"}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	pendingCookie := extractCookie(loginResp, middleware.WebSessionCookie)
	loginResp.Body.Close()

	finishResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login/2fa",
		map[string]any{"code": recoveryCode}, sessionHeaders(pendingCookie))
	assertStatus(t, finishResp, http.StatusOK)
	finishResp.Body.Close()

	// The spent code never works again.
	loginResp = performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login",
		map[string]any{"email": "user@example.com", "password": "password123"}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	secondPending := extractCookie(loginResp, middleware.WebSessionCookie)
	loginResp.Body.Close()

	replayResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login/2fa",
		map[string]any{"code": recoveryCode}, sessionHeaders(secondPending))
	assertStatus(t, replayResp, http.StatusUnauthorized)
	replayResp.Body.Close()

	var cfg models.MFAConfig
	if err := env.db.First(&cfg, "totp_enabled = ?", true).Error; err != nil {
		t.Fatalf("failed loading MFA config: %v", err)
	}
	if cfg.RecoveryCount != 9 {
		t.Fatalf("expected 9 recovery codes remaining, got %d", cfg.RecoveryCount)
	}
}

func TestTOTPDisableRevokesTrustedDevices(t *testing.T) {
	env := setupTestEnv(t)
	user := createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)
	secret := enableTOTP(t, env, user)

	if _, err := env.devices.Trust(context.Background(), user.ID, "test-agent"); err != nil {
		t.Fatalf("failed trusting device: %v", err)
	}

	// Login needs the second factor while TOTP is on.
	loginResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login",
		map[string]any{"email": "user@example.com", "password": "password123"}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	pendingCookie := extractCookie(loginResp, middleware.WebSessionCookie)
	loginResp.Body.Close()

	finishResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login/2fa",
		map[string]any{"code": currentTOTPCode(t, secret)}, sessionHeaders(pendingCookie))
	assertStatus(t, finishResp, http.StatusOK)
	finishResp.Body.Close()

	disableResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/totp/disable",
		map[string]any{"password": "password123"}, sessionHeaders(pendingCookie))
	assertStatus(t, disableResp, http.StatusOK)
	disableResp.Body.Close()

	var remaining int64
	if err := env.db.Model(&models.TrustedDevice{}).Count(&remaining).Error; err != nil {
		t.Fatalf("failed counting trusted devices: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected all trusted devices revoked, got %d", remaining)
	}

	// Next login goes straight through without a second factor.
	cookie := loginTestUser(t, env, "user@example.com", "password123")
	meResp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, sessionHeaders(cookie))
	assertStatus(t, meResp, http.StatusOK)
	meResp.Body.Close()
}

func TestRegenerateRecoveryRequiresPassword(t *testing.T) {
	env := setupTestEnv(t)
	user := createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)
	secret := enableTOTP(t, env, user)

	loginResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login",
		map[string]any{"email": "user@example.com", "password": "password123"}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	cookie := extractCookie(loginResp, middleware.WebSessionCookie)
	loginResp.Body.Close()

	finishResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login/2fa",
		map[string]any{"code": currentTOTPCode(t, secret)}, sessionHeaders(cookie))
	assertStatus(t, finishResp, http.StatusOK)
	finishResp.Body.Close()

	badResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/recovery/regenerate",
		map[string]any{"password": "wrong"}, sessionHeaders(cookie))
	assertStatus(t, badResp, http.StatusBadRequest)
	badResp.Body.Close()

	goodResp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/mfa/recovery/regenerate",
		map[string]any{"password": "password123"}, sessionHeaders(cookie))
	assertStatus(t, goodResp, http.StatusOK)
	goodData, _ := decodeJSONMap(t, goodResp)["data"].(map[string]any)
	codes, _ := goodData["recoveryCodes"].([]any)
	if len(codes) != 10 {
		t.Fatalf("expected 10 fresh recovery codes, got %d", len(codes))
	}
}

func TestTrustedDeviceListAndRevoke(t *testing.T) {
	env := setupTestEnv(t)
	user := createTestUser(t, env.db, "user@example.com", "password123", models.UserRoleUser)
	cookie := loginTestUser(t, env, "user@example.com", "password123")

	if _, err := env.devices.Trust(context.Background(), user.ID, "test-agent"); err != nil {
		t.Fatalf("failed trusting device: %v", err)
	}

	listResp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/mfa/devices", nil, sessionHeaders(cookie))
	assertStatus(t, listResp, http.StatusOK)
	items, _ := decodeJSONMap(t, listResp)["data"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 trusted device, got %d", len(items))
	}
	device, _ := items[0].(map[string]any)
	deviceID, _ := device["id"].(string)

	revokeResp := performJSONRequest(t, env.app, http.MethodDelete, "/api/auth/mfa/devices/"+deviceID,
		nil, sessionHeaders(cookie))
	assertStatus(t, revokeResp, http.StatusOK)
	revokeResp.Body.Close()

	listResp = performJSONRequest(t, env.app, http.MethodGet, "/api/auth/mfa/devices", nil, sessionHeaders(cookie))
	assertStatus(t, listResp, http.StatusOK)
	items, _ = decodeJSONMap(t, listResp)["data"].([]any)
	if len(items) != 0 {
		t.Fatalf("expected no trusted devices, got %d", len(items))
	}
}
