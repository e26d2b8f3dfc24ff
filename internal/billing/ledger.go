// Package billing abstracts the platform billing SDK behind a small ledger
// interface. The reconciliation code never talks to a store SDK directly; it
// only ever sees what this package reports.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserCancelled is returned when the user dismisses the platform
	// purchase or restore sheet. Callers swallow it; it is not a failure.
	ErrUserCancelled = errors.New("user cancelled billing flow")

	// ErrAlreadyOwned is returned when a purchase is attempted for a product
	// the account already owns. Callers treat it like a successful restore.
	ErrAlreadyOwned = errors.New("product already owned")
)

// LedgerEntitlement is the device ledger's view of the currently owned
// subscription, if any.
type LedgerEntitlement struct {
	ProductID     string
	ExpiresDate   *time.Time
	PurchaseToken string
	OriginalDate  time.Time
}

// RestoreResult reports the outcome of an explicit restore-purchases flow.
type RestoreResult struct {
	Succeeded   bool
	Entitlement *LedgerEntitlement
}

// PurchaseResult reports the outcome of a purchase flow that reached the
// platform. Pending means the transaction cleared the sheet but is awaiting
// external approval (family approval, delayed payment).
type PurchaseResult struct {
	ProductID   string
	Pending     bool
	Entitlement *LedgerEntitlement
}

// Ledger is the platform purchase ledger. Implementations wrap the native
// billing SDK on device; tests use FakeLedger.
type Ledger interface {
	// CurrentEntitlement returns the owned subscription, or nil when the
	// ledger holds nothing.
	CurrentEntitlement(ctx context.Context) (*LedgerEntitlement, error)
	// PendingTransaction reports whether a transaction is mid-flight.
	PendingTransaction(ctx context.Context) (bool, error)
	// Restore replays the account's purchase history onto this device.
	Restore(ctx context.Context) (*RestoreResult, error)
	// Purchase starts the platform purchase flow for a product.
	Purchase(ctx context.Context, productID string) (*PurchaseResult, error)
}
