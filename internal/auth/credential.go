// Package auth provides credential issuance and validation for the
// verification API.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

const (
	// CredentialPrefix is the prefix for all PawKeeper credentials.
	CredentialPrefix = "pk_"
	// CredentialLength is the expected length of the hex portion of a credential.
	CredentialLength = 64 // 32 bytes = 64 hex chars
)

// IdentityStore defines the interface for identity lookup operations.
type IdentityStore interface {
	GetIdentityByCredentialHash(ctx context.Context, hash string) (*models.Identity, error)
}

// CredentialValidator validates bearer credentials and retrieves the
// associated identity.
type CredentialValidator struct {
	store  IdentityStore
	logger zerolog.Logger
}

// NewCredentialValidator creates a new credential validator.
func NewCredentialValidator(store IdentityStore, logger zerolog.Logger) *CredentialValidator {
	return &CredentialValidator{
		store:  store,
		logger: logger.With().Str("component", "credential_validator").Logger(),
	}
}

// Validate validates a credential and returns the associated identity.
// Returns nil if the credential is invalid or not found.
func (v *CredentialValidator) Validate(ctx context.Context, credential string) (*models.Identity, error) {
	if !IsValidCredentialFormat(credential) {
		v.logger.Debug().Msg("invalid credential format")
		return nil, nil
	}

	identity, err := v.store.GetIdentityByCredentialHash(ctx, HashCredential(credential))
	if err != nil {
		v.logger.Debug().Err(err).Msg("identity not found for credential")
		return nil, nil
	}

	return identity, nil
}

// GenerateCredential creates a new random credential.
func GenerateCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return CredentialPrefix + hex.EncodeToString(buf), nil
}

// IsValidCredentialFormat checks if the credential has the correct format.
func IsValidCredentialFormat(credential string) bool {
	if !strings.HasPrefix(credential, CredentialPrefix) {
		return false
	}
	hexPart := strings.TrimPrefix(credential, CredentialPrefix)
	if len(hexPart) != CredentialLength {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// HashCredential creates a SHA-256 hash of a credential for storage and
// lookup. Raw credentials are never persisted.
func HashCredential(credential string) string {
	hash := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(hash[:])
}

// ExtractBearerToken extracts the token from an Authorization header value.
// Returns empty string if the header is not a valid Bearer token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
