package verify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_ServerTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/time" {
			t.Errorf("path = %s, want /api/v1/time", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("time endpoint must not send a credential")
		}
		json.NewEncoder(w).Encode(map[string]any{"server_time": now})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	got, err := client.ServerTime(context.Background())
	if err != nil {
		t.Fatalf("server time: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("server time = %v, want %v", got, now)
	}
}

func TestClient_TrialStatus(t *testing.T) {
	started := time.Date(2025, 5, 28, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("Authorization = %q, want Bearer tok-123", got)
		}
		if got := r.URL.Query().Get("device_fingerprint"); got != "device-1" {
			t.Errorf("device_fingerprint = %q, want device-1", got)
		}
		json.NewEncoder(w).Encode(TrialStatusResponse{
			HasUsedTrial:   true,
			TrialStartedAt: &started,
			ServerTime:     started.Add(48 * time.Hour),
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123")
	resp, err := client.TrialStatus(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("trial status: %v", err)
	}
	if !resp.HasUsedTrial {
		t.Error("HasUsedTrial = false, want true")
	}
	if resp.TrialStartedAt == nil || !resp.TrialStartedAt.Equal(started) {
		t.Errorf("TrialStartedAt = %v, want %v", resp.TrialStartedAt, started)
	}
}

func TestClient_NoCredential(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	if _, err := client.TrialStatus(context.Background(), "device-1"); !errors.Is(err, ErrNoCredential) {
		t.Errorf("TrialStatus error = %v, want ErrNoCredential", err)
	}
	if err := client.StartTrial(context.Background(), "device-1"); !errors.Is(err, ErrNoCredential) {
		t.Errorf("StartTrial error = %v, want ErrNoCredential", err)
	}
	if called {
		t.Error("credential-less call must not reach the network")
	}
}

func TestClient_StartTrialConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "trial already used"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123")
	err := client.StartTrial(context.Background(), "device-1")
	if !errors.Is(err, ErrTrialAlreadyUsed) {
		t.Errorf("StartTrial error = %v, want ErrTrialAlreadyUsed", err)
	}
}

func TestClient_StartTrialSuccess(t *testing.T) {
	var gotBody startTrialRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123")
	if err := client.StartTrial(context.Background(), "device-1"); err != nil {
		t.Fatalf("start trial: %v", err)
	}
	if gotBody.DeviceFingerprint != "device-1" {
		t.Errorf("device_fingerprint = %q, want device-1", gotBody.DeviceFingerprint)
	}
}

func TestClient_Verify(t *testing.T) {
	expiry := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/verify" {
			t.Errorf("path = %s, want /api/v1/verify", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":               true,
			"server_sync_succeeded": true,
			"entitlement_active":    true,
			"expires_date":          expiry,
			"product_id":            "com.pawkeeper.premium.monthly",
			"source":                "server",
			"server_time":           expiry.Add(-30 * 24 * time.Hour),
			"has_purchase_history":  true,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123")
	bundle, err := client.Verify(context.Background(), "device-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !bundle.EntitlementActive {
		t.Error("EntitlementActive = false, want true")
	}
	if bundle.ExpiresDate == nil || !bundle.ExpiresDate.Equal(expiry) {
		t.Errorf("ExpiresDate = %v, want %v", bundle.ExpiresDate, expiry)
	}
	if !bundle.HasPurchaseHistory {
		t.Error("HasPurchaseHistory = false, want true")
	}
}

func TestClient_VerifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123")
	if _, err := client.Verify(context.Background(), "device-1"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestClient_SyncState(t *testing.T) {
	var got SyncStateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123")
	err := client.SyncState(context.Background(), SyncStateRequest{
		DeviceFingerprint: "device-1",
		Status:            "subscribed",
		ProductID:         "com.pawkeeper.premium.yearly",
	})
	if err != nil {
		t.Fatalf("sync state: %v", err)
	}
	if got.Status != "subscribed" {
		t.Errorf("status = %q, want subscribed", got.Status)
	}
}

func TestClient_Register(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/register" {
			t.Errorf("path = %q, want /auth/register", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("register must not send a credential")
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req["email"] != "owner@example.com" {
			t.Errorf("email = %q", req["email"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"identity_id": "11111111-2222-3333-4444-555555555555",
			"credential":  "pk_abc",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	resp, err := client.Register(context.Background(), "owner@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.Credential != "pk_abc" {
		t.Errorf("credential = %q, want pk_abc", resp.Credential)
	}
	if resp.IdentityID == "" {
		t.Error("expected identity_id")
	}
}
