package billing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
)

// ledgerFile is the on-disk shape of the file ledger.
type ledgerFile struct {
	ProductID     string     `yaml:"product_id,omitempty"`
	PurchaseToken string     `yaml:"purchase_token,omitempty"`
	ExpiresDate   *time.Time `yaml:"expires_date,omitempty"`
	OriginalDate  *time.Time `yaml:"original_date,omitempty"`
	Pending       bool       `yaml:"pending,omitempty"`
}

// FileLedger is a YAML-backed ledger used where no platform billing SDK is
// available. It records one owned subscription per config directory, which
// matches how the store ledgers behave for a single subscription group.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger creates a file ledger rooted in the given config directory.
func NewFileLedger(configDir string) *FileLedger {
	return &FileLedger{path: filepath.Join(configDir, "ledger.yml")}
}

func (l *FileLedger) load() (*ledgerFile, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ledgerFile{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var lf ledgerFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return &lf, nil
}

func (l *FileLedger) save(lf *ledgerFile) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

func (lf *ledgerFile) entitlement() *LedgerEntitlement {
	if lf.ProductID == "" {
		return nil
	}
	ent := &LedgerEntitlement{
		ProductID:     lf.ProductID,
		PurchaseToken: lf.PurchaseToken,
		ExpiresDate:   lf.ExpiresDate,
	}
	if lf.OriginalDate != nil {
		ent.OriginalDate = *lf.OriginalDate
	}
	return ent
}

// CurrentEntitlement returns the recorded subscription, or nil.
func (l *FileLedger) CurrentEntitlement(ctx context.Context) (*LedgerEntitlement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lf, err := l.load()
	if err != nil {
		return nil, err
	}
	return lf.entitlement(), nil
}

// PendingTransaction reports whether a recorded purchase is awaiting approval.
func (l *FileLedger) PendingTransaction(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lf, err := l.load()
	if err != nil {
		return false, err
	}
	return lf.Pending, nil
}

// Restore reports the recorded subscription as this device's purchase
// history. With nothing recorded the restore completes without a result.
func (l *FileLedger) Restore(ctx context.Context) (*RestoreResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lf, err := l.load()
	if err != nil {
		return nil, err
	}

	ent := lf.entitlement()
	return &RestoreResult{Succeeded: ent != nil, Entitlement: ent}, nil
}

// Purchase records a purchase of the given product. The product must be a
// recognized SKU; a second purchase of an owned product returns
// ErrAlreadyOwned like the platform sheets do.
func (l *FileLedger) Purchase(ctx context.Context, productID string) (*PurchaseResult, error) {
	if !entitlement.RecognizedProduct(productID) {
		return nil, errors.New("unknown product: " + productID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lf, err := l.load()
	if err != nil {
		return nil, err
	}
	if lf.ProductID == productID && lf.ExpiresDate != nil && lf.ExpiresDate.After(time.Now()) {
		return nil, ErrAlreadyOwned
	}

	now := time.Now().UTC()
	expires := now.AddDate(0, 1, 0)
	if productID == entitlement.ProductYearly {
		expires = now.AddDate(1, 0, 0)
	}

	lf.ProductID = productID
	lf.PurchaseToken = uuid.NewString()
	lf.ExpiresDate = &expires
	lf.OriginalDate = &now
	lf.Pending = false

	if err := l.save(lf); err != nil {
		return nil, err
	}

	return &PurchaseResult{
		ProductID:   productID,
		Entitlement: lf.entitlement(),
	}, nil
}
