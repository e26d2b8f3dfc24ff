package billing

import (
	"context"
	"sync"
)

// FakeLedger is an in-memory Ledger for tests and the CLI harness. All
// fields are settable; method errors take priority over canned results.
type FakeLedger struct {
	mu sync.Mutex

	Entitlement    *LedgerEntitlement
	Pending        bool
	RestoreOutcome *RestoreResult

	EntitlementErr error
	PendingErr     error
	RestoreErr     error
	PurchaseErr    error

	RestoreCalls  int
	PurchaseCalls int
}

func (f *FakeLedger) CurrentEntitlement(ctx context.Context) (*LedgerEntitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EntitlementErr != nil {
		return nil, f.EntitlementErr
	}
	return f.Entitlement, nil
}

func (f *FakeLedger) PendingTransaction(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PendingErr != nil {
		return false, f.PendingErr
	}
	return f.Pending, nil
}

func (f *FakeLedger) Restore(ctx context.Context) (*RestoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RestoreCalls++
	if f.RestoreErr != nil {
		return nil, f.RestoreErr
	}
	if f.RestoreOutcome != nil {
		return f.RestoreOutcome, nil
	}
	return &RestoreResult{Succeeded: f.Entitlement != nil, Entitlement: f.Entitlement}, nil
}

func (f *FakeLedger) Purchase(ctx context.Context, productID string) (*PurchaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PurchaseCalls++
	if f.PurchaseErr != nil {
		return nil, f.PurchaseErr
	}
	ent := &LedgerEntitlement{ProductID: productID}
	f.Entitlement = ent
	return &PurchaseResult{ProductID: productID, Entitlement: ent}, nil
}
