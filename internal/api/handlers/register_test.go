package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/auth"
	"github.com/pawkeeperapp/pawkeeper/internal/db"
	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

type fakeRegistrationStore struct {
	created *models.Identity
	err     error
}

func (f *fakeRegistrationStore) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	if f.err != nil {
		return f.err
	}
	f.created = identity
	return nil
}

func setupRegisterTestRouter(store *fakeRegistrationStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/auth")
	handler := NewRegisterHandler(store, zerolog.Nop())
	handler.RegisterRoutes(group)
	return r
}

func TestRegister(t *testing.T) {
	t.Run("issues credential", func(t *testing.T) {
		store := &fakeRegistrationStore{}
		r := setupRegisterTestRouter(store)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/auth/register", bytes.NewBufferString(`{"email":"owner@example.com"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
		}

		var resp RegisterResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if !auth.IsValidCredentialFormat(resp.Credential) {
			t.Errorf("invalid credential format: %q", resp.Credential)
		}
		if store.created == nil {
			t.Fatal("expected identity to be created")
		}
		if store.created.CredentialHash != auth.HashCredential(resp.Credential) {
			t.Error("stored hash does not match issued credential")
		}
		if store.created.CredentialHash == resp.Credential {
			t.Error("raw credential must not be stored")
		}
	})

	t.Run("missing email rejected", func(t *testing.T) {
		r := setupRegisterTestRouter(&fakeRegistrationStore{})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/auth/register", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		r := setupRegisterTestRouter(&fakeRegistrationStore{err: db.ErrIdentityExists})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/auth/register", bytes.NewBufferString(`{"email":"owner@example.com"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		r := setupRegisterTestRouter(&fakeRegistrationStore{err: errors.New("connection reset")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/auth/register", bytes.NewBufferString(`{"email":"owner@example.com"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", w.Code)
		}
	})
}
