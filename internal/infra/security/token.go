package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/arklim/patient-portal-iam/internal/core/port"
)

// TokenByteLength is the amount of randomness behind every raw token.
const TokenByteLength = 32

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DigestToken returns the padded standard base64 SHA-256 of value. Raw tokens
// are never stored; lookups go through this digest.
func DigestToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// TokenCodec issues raw tokens and their digests.
type TokenCodec struct{}

func NewTokenCodec() TokenCodec {
	return TokenCodec{}
}

func (TokenCodec) Generate() (string, error) {
	return GenerateSecureToken(TokenByteLength)
}

func (TokenCodec) Digest(raw string) string {
	return DigestToken(raw)
}

var _ port.TokenCodec = TokenCodec{}
