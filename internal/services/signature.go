package services

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
)

var ErrUnsupportedKeyType = errors.New("unsupported public key type")

// ParsePublicKey decodes a PEM-encoded PKIX public key and rejects key types
// the verifier cannot dispatch on.
func ParsePublicKey(pemBytes []byte) (interface{}, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	switch key.(type) {
	case ed25519.PublicKey, *rsa.PublicKey:
		return key, nil
	default:
		return nil, ErrUnsupportedKeyType
	}
}

// FingerprintPublicKey derives the stable fingerprint of a PEM public key:
// sha256 over the DER bytes, hex encoded. The same key always yields the
// same fingerprint regardless of PEM formatting.
func FingerprintPublicKey(pemBytes []byte) (string, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return "", errors.New("no PEM block found")
	}
	if _, err := x509.ParsePKIXPublicKey(block.Bytes); err != nil {
		return "", err
	}

	sum := sha256.Sum256(block.Bytes)
	return hex.EncodeToString(sum[:]), nil
}

// VerifySignature reports whether signature covers message under the given
// PEM public key. It is a pure function: malformed keys, unsupported key
// types, and malformed signatures all verify false, never panic or error.
func VerifySignature(publicKeyPEM, message, signature []byte) bool {
	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false
	}

	switch pub := key.(type) {
	case ed25519.PublicKey:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(pub, message, signature)
	case *rsa.PublicKey:
		digest := sha256.Sum256(message)
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil
	default:
		return false
	}
}
