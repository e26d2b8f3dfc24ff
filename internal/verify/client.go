// Package verify provides the HTTP client for the PawKeeper verification API.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
)

var (
	// ErrNoCredential is returned when an authenticated call is attempted
	// without a stored credential. The network is never touched.
	ErrNoCredential = errors.New("no credential configured")

	// ErrTrialAlreadyUsed is returned when the server rejects a trial start
	// because the identity or device already consumed one.
	ErrTrialAlreadyUsed = errors.New("trial already used")
)

// Client is an HTTP client for communicating with the verification API.
type Client struct {
	serverURL  string
	credential string
	httpClient *http.Client
}

// NewClient creates a verification API client. The credential is the opaque
// bearer token issued at login; it may be empty for unauthenticated use of
// ServerTime.
func NewClient(serverURL, credential string) *Client {
	return &Client{
		serverURL:  serverURL,
		credential: credential,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type registerRequest struct {
	Email string `json:"email"`
}

// RegisterResponse carries the credential issued for a new identity.
type RegisterResponse struct {
	IdentityID string `json:"identity_id"`
	Credential string `json:"credential"`
}

// Register creates an identity on the server and returns its credential.
// It requires no prior credential.
func (c *Client) Register(ctx context.Context, email string) (*RegisterResponse, error) {
	var resp RegisterResponse
	if err := c.post(ctx, "/auth/register", false, registerRequest{Email: email}, &resp); err != nil {
		return nil, fmt.Errorf("register identity: %w", err)
	}
	return &resp, nil
}

type serverTimeResponse struct {
	ServerTime time.Time `json:"server_time"`
}

// ServerTime fetches the authoritative clock. It requires no credential.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var resp serverTimeResponse
	if err := c.get(ctx, "/api/v1/time", false, &resp); err != nil {
		return time.Time{}, fmt.Errorf("get server time: %w", err)
	}
	return resp.ServerTime, nil
}

// DeviceTrial records a trial already consumed on this device, possibly
// under a different identity.
type DeviceTrial struct {
	Fingerprint string    `json:"fingerprint"`
	StartedAt   time.Time `json:"started_at"`
}

// TrialStatusResponse is the server's view of an identity's trial history.
type TrialStatusResponse struct {
	HasUsedTrial   bool         `json:"has_used_trial"`
	TrialStartedAt *time.Time   `json:"trial_started_at,omitempty"`
	ServerTime     time.Time    `json:"server_time"`
	DeviceTrial    *DeviceTrial `json:"device_trial,omitempty"`
}

// TrialStatus retrieves the trial history for the authenticated identity.
// The device fingerprint lets the server surface a trial consumed on this
// device under a different identity.
func (c *Client) TrialStatus(ctx context.Context, deviceFingerprint string) (*TrialStatusResponse, error) {
	var resp TrialStatusResponse
	path := "/api/v1/trial/status?device_fingerprint=" + url.QueryEscape(deviceFingerprint)
	if err := c.get(ctx, path, true, &resp); err != nil {
		return nil, fmt.Errorf("get trial status: %w", err)
	}
	return &resp, nil
}

type startTrialRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
}

// StartTrial registers a trial start for the authenticated identity. The
// server enforces one trial per identity and per device; a conflict returns
// ErrTrialAlreadyUsed and the caller re-fetches status to adopt the
// existing trial.
func (c *Client) StartTrial(ctx context.Context, deviceFingerprint string) error {
	req := startTrialRequest{DeviceFingerprint: deviceFingerprint}
	if err := c.post(ctx, "/api/v1/trial/start", true, req, nil); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusConflict {
			return ErrTrialAlreadyUsed
		}
		return fmt.Errorf("start trial: %w", err)
	}
	return nil
}

type verifyRequest struct {
	DeviceFingerprint string `json:"device_fingerprint"`
}

// Verify asks the server for the authoritative entitlement picture. The
// returned bundle carries server-owned fields only; the orchestrator merges
// in the device ledger and local flags before determination.
func (c *Client) Verify(ctx context.Context, deviceFingerprint string) (*entitlement.VerificationBundle, error) {
	req := verifyRequest{DeviceFingerprint: deviceFingerprint}
	var bundle entitlement.VerificationBundle
	if err := c.post(ctx, "/api/v1/verify", true, req, &bundle); err != nil {
		return nil, fmt.Errorf("verify entitlement: %w", err)
	}
	return &bundle, nil
}

// SyncStateRequest is the client's last-determined state, reported to the
// server after each reconciliation run.
type SyncStateRequest struct {
	DeviceFingerprint string     `json:"device_fingerprint"`
	Status            string     `json:"status"`
	TrialStartDate    *time.Time `json:"trial_start_date,omitempty"`
	SubscriptionStart *time.Time `json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscription_end,omitempty"`
	ProductID         string     `json:"product_id,omitempty"`
	PurchaseToken     string     `json:"purchase_token,omitempty"`
}

// SyncState reports the client's determined state to the server.
func (c *Client) SyncState(ctx context.Context, req SyncStateRequest) error {
	if err := c.post(ctx, "/api/v1/state/sync", true, req, nil); err != nil {
		return fmt.Errorf("sync state: %w", err)
	}
	return nil
}

// statusError preserves the HTTP status code so callers can branch on
// specific responses like 409.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, path string, auth bool, result any) error {
	if auth && c.credential == "" {
		return ErrNoCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return err
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, body: string(body)}
	}

	return json.Unmarshal(body, result)
}

func (c *Client) post(ctx context.Context, path string, auth bool, payload, result any) error {
	if auth && c.credential == "" {
		return ErrNoCredential
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(body)}
	}

	if result != nil {
		return json.Unmarshal(body, result)
	}
	return nil
}
