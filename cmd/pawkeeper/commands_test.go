package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/billing"
	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
	"github.com/pawkeeperapp/pawkeeper/internal/reconcile"
	"github.com/pawkeeperapp/pawkeeper/internal/statestore"
	"github.com/pawkeeperapp/pawkeeper/internal/verify"
)

type stubVerifyClient struct {
	mu     sync.Mutex
	bundle entitlement.VerificationBundle
	syncs  []verify.SyncStateRequest
}

func (c *stubVerifyClient) Verify(ctx context.Context, fingerprint string) (*entitlement.VerificationBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := c.bundle
	return &copied, nil
}

func (c *stubVerifyClient) SyncState(ctx context.Context, req verify.SyncStateRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncs = append(c.syncs, req)
	return nil
}

// Purchasing a product the ledger already owns must run the restore flow and
// land on subscribed, not surface an error or leave the state untouched.
func TestPurchaseAlreadyOwnedRestores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := zerolog.Nop()

	store, err := statestore.NewSQLiteStore(dir, logger)
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	ledger := billing.NewFileLedger(dir)
	seed, err := ledger.Purchase(ctx, entitlement.ProductMonthly)
	if err != nil {
		t.Fatalf("seed purchase: %v", err)
	}

	client := &stubVerifyClient{bundle: entitlement.VerificationBundle{
		Success:             true,
		ServerSyncSucceeded: true,
		Source:              entitlement.SourceServer,
		ServerTime:          time.Now().UTC(),
		EntitlementActive:   true,
		HasPurchaseHistory:  true,
		ExpiresDate:         seed.Entitlement.ExpiresDate,
		ProductID:           entitlement.ProductMonthly,
	}}

	orch := reconcile.New(reconcile.Config{
		Store:       store,
		Client:      client,
		Ledger:      ledger,
		Identity:    "user-1",
		Fingerprint: "device-1",
		Logger:      logger,
	})
	s := &session{store: store, ledger: ledger, orch: orch, logger: logger}

	if err := s.purchase(ctx, entitlement.ProductMonthly); err != nil {
		t.Fatalf("purchase of owned product: %v", err)
	}

	state, err := orch.Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if state.Status != entitlement.StatusSubscribed {
		t.Errorf("status = %v, want %v", state.Status, entitlement.StatusSubscribed)
	}
	if !state.HasPurchaseHistory {
		t.Error("expected purchase history after restore")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.syncs) == 0 {
		t.Fatal("expected the restored state to be reported")
	}
	last := client.syncs[len(client.syncs)-1]
	if last.Status != string(entitlement.StatusSubscribed) {
		t.Errorf("reported status = %q, want subscribed", last.Status)
	}
	if last.PurchaseToken != seed.Entitlement.PurchaseToken {
		t.Errorf("reported token = %q, want the ledger token", last.PurchaseToken)
	}
}
