package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/reelvault/backend/internal/models"
)

func TestTrustReturnsRawTokenOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewDeviceTrustService(db, 30*24*time.Hour)
	ctx := context.Background()

	user := createUser(t, db, "user@example.com")

	rawToken, err := svc.Trust(ctx, user.ID, "laptop")
	if err != nil {
		t.Fatalf("trust failed: %v", err)
	}
	if !strings.HasPrefix(rawToken, "rvd_") {
		t.Fatalf("unexpected token format: %q", rawToken)
	}

	var device models.TrustedDevice
	if err := db.First(&device, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("failed loading device: %v", err)
	}
	if device.TokenHash == rawToken || strings.Contains(device.TokenHash, rawToken) {
		t.Fatal("raw token must never be stored")
	}

	if !svc.IsTrusted(ctx, user.ID, rawToken) {
		t.Fatal("expected the raw token to validate")
	}
}

func TestIsTrustedRejectsForeignAndUnknownTokens(t *testing.T) {
	db := newTestDB(t)
	svc := NewDeviceTrustService(db, 30*24*time.Hour)
	ctx := context.Background()

	owner := createUser(t, db, "owner@example.com")
	other := createUser(t, db, "other@example.com")

	rawToken, err := svc.Trust(ctx, owner.ID, "laptop")
	if err != nil {
		t.Fatalf("trust failed: %v", err)
	}

	if svc.IsTrusted(ctx, other.ID, rawToken) {
		t.Fatal("a token must only validate for its owner")
	}
	if svc.IsTrusted(ctx, owner.ID, "rvd_unknown") {
		t.Fatal("unknown token must not validate")
	}
	if svc.IsTrusted(ctx, owner.ID, "") {
		t.Fatal("empty token must not validate")
	}
}

func TestExpiredTrustDoesNotValidate(t *testing.T) {
	db := newTestDB(t)
	svc := NewDeviceTrustService(db, 30*24*time.Hour)
	ctx := context.Background()

	user := createUser(t, db, "user@example.com")
	rawToken, err := svc.Trust(ctx, user.ID, "laptop")
	if err != nil {
		t.Fatalf("trust failed: %v", err)
	}

	past := time.Now().Add(-1 * time.Hour)
	if err := db.Model(&models.TrustedDevice{}).
		Where("user_id = ?", user.ID).
		Update("expires_at", past).Error; err != nil {
		t.Fatalf("failed expiring device: %v", err)
	}

	if svc.IsTrusted(ctx, user.ID, rawToken) {
		t.Fatal("expired trust must not validate")
	}

	if err := svc.CleanupExpired(ctx); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	var count int64
	if err := db.Model(&models.TrustedDevice{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected expired device removed, got %d", count)
	}
}

func TestRevokeAllRemovesEveryDevice(t *testing.T) {
	db := newTestDB(t)
	svc := NewDeviceTrustService(db, 30*24*time.Hour)
	ctx := context.Background()

	user := createUser(t, db, "user@example.com")
	tokens := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		rawToken, err := svc.Trust(ctx, user.ID, "device")
		if err != nil {
			t.Fatalf("trust failed: %v", err)
		}
		tokens = append(tokens, rawToken)
	}

	if err := svc.RevokeAll(ctx, user.ID); err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}

	for _, rawToken := range tokens {
		if svc.IsTrusted(ctx, user.ID, rawToken) {
			t.Fatal("revoked token must not validate")
		}
	}
}
