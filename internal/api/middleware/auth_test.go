package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/auth"
	"github.com/pawkeeperapp/pawkeeper/internal/models"

	"github.com/gin-gonic/gin"
)

type stubIdentityStore struct {
	identity *models.Identity
}

func (s *stubIdentityStore) GetIdentityByCredentialHash(ctx context.Context, hash string) (*models.Identity, error) {
	if s.identity != nil && s.identity.CredentialHash == hash {
		return s.identity, nil
	}
	return nil, errors.New("not found")
}

func authTestRouter(t *testing.T, store auth.IdentityStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator := auth.NewCredentialValidator(store, zerolog.Nop())

	r := gin.New()
	r.Use(CredentialMiddleware(validator, zerolog.Nop()))
	r.GET("/protected", func(c *gin.Context) {
		identity, ok := RequireIdentity(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"identity_id": identity.ID.String()})
	})
	return r
}

func TestCredentialMiddleware(t *testing.T) {
	credential, err := auth.GenerateCredential()
	if err != nil {
		t.Fatalf("GenerateCredential() error: %v", err)
	}

	identity := &models.Identity{
		ID:             uuid.New(),
		Email:          "owner@example.com",
		CredentialHash: auth.HashCredential(credential),
	}
	r := authTestRouter(t, &stubIdentityStore{identity: identity})

	t.Run("valid credential passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+credential)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("missing header rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", w.Code)
		}
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", credential)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", w.Code)
		}
	})

	t.Run("unknown credential rejected", func(t *testing.T) {
		other, _ := auth.GenerateCredential()

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+other)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", w.Code)
		}
	})
}

func TestGetIdentity_Unset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if got := GetIdentity(c); got != nil {
		t.Errorf("expected nil identity, got %+v", got)
	}
}
