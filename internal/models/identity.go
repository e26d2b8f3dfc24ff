// Package models defines the server-side data models for the verification API.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is an authenticated PawKeeper account as the verification server
// sees it. The credential issued at sign-in is stored as a hash only.
type Identity struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
