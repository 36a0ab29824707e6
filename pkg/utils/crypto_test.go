package utils

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ConfigureEncryption("unit-test-secret")

	plaintext := "-----BEGIN PUBLIC KEY-----\nMCowBQYDK2VwAyEA\n-----END PUBLIC KEY-----"
	encrypted, err := EncryptAESGCM(plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if strings.Contains(encrypted, "PUBLIC KEY") {
		t.Fatal("ciphertext must not contain the plaintext")
	}

	decrypted, err := DecryptAESGCM(encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	ConfigureEncryption("unit-test-secret")

	first, err := EncryptAESGCM("same input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	second, err := EncryptAESGCM("same input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if first == second {
		t.Fatal("two encryptions of the same input must differ")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	ConfigureEncryption("unit-test-secret")

	encrypted, err := EncryptAESGCM("payload")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	tampered := "A" + encrypted[1:]
	if tampered == encrypted {
		tampered = "B" + encrypted[1:]
	}
	if _, err := DecryptAESGCM(tampered); err == nil {
		t.Fatal("expected tampered ciphertext to fail")
	}
}

func TestDecryptOrPlaintextFallsBack(t *testing.T) {
	ConfigureEncryption("unit-test-secret")

	encrypted, err := EncryptAESGCM("secret value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if got := DecryptOrPlaintext(encrypted); got != "secret value" {
		t.Fatalf("expected decrypt, got %q", got)
	}

	// Legacy unencrypted values pass through unchanged.
	if got := DecryptOrPlaintext("JBSWY3DPEHPK3PXP"); got != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if got := DecryptOrPlaintext(""); got != "" {
		t.Fatalf("expected empty passthrough, got %q", got)
	}
}

func TestRandomHexLength(t *testing.T) {
	value, err := RandomHex(32)
	if err != nil {
		t.Fatalf("random failed: %v", err)
	}
	if len(value) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(value))
	}

	other, err := RandomHex(32)
	if err != nil {
		t.Fatalf("random failed: %v", err)
	}
	if value == other {
		t.Fatal("two random values must differ")
	}
}
