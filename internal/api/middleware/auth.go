// Package middleware provides HTTP middleware for the PawKeeper
// verification API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/auth"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// IdentityContextKey is the context key for the authenticated identity.
const IdentityContextKey ContextKey = "identity"

// CredentialMiddleware returns a Gin middleware that authenticates requests
// using bearer credentials.
func CredentialMiddleware(validator *auth.CredentialValidator, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "credential_middleware").Logger()

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		credential := auth.ExtractBearerToken(authHeader)
		if credential == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		identity, err := validator.Validate(c.Request.Context(), credential)
		if err != nil || identity == nil {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid credential")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}

		c.Set(string(IdentityContextKey), identity)

		log.Debug().
			Str("identity_id", identity.ID.String()).
			Str("path", c.Request.URL.Path).
			Msg("authenticated request")

		c.Next()
	}
}

// GetIdentity retrieves the authenticated identity from the Gin context.
// Returns nil if no identity is authenticated.
func GetIdentity(c *gin.Context) *models.Identity {
	v, exists := c.Get(string(IdentityContextKey))
	if !exists {
		return nil
	}
	identity, ok := v.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}

// RequireIdentity gets the authenticated identity or aborts with 401.
// Use this in handlers that expect CredentialMiddleware to have already run.
func RequireIdentity(c *gin.Context) (*models.Identity, bool) {
	identity := GetIdentity(c)
	if identity == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	return identity, true
}
