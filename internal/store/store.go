package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kassa/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the row changed since it was read.
	ErrConflict = errors.New("version conflict")
)

// StorageError wraps a failure of the backing store that is not one of the
// sentinel outcomes above.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap tags err with op. Sentinel errors and nil pass through untouched.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

type ProductCatalog interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// GetProducts omits ids it does not know.
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type CampaignCatalog interface {
	CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	// ListActiveCampaigns returns campaigns in effect at now, oldest first.
	ListActiveCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)
	DeactivateCampaign(ctx context.Context, id string) (*domain.Campaign, error)
}

type ReceiptStore interface {
	CreateReceipt(ctx context.Context, receipt *domain.Receipt) error
	GetReceipt(ctx context.Context, id string) (*domain.Receipt, error)
	// SaveReceipt writes receipt if its stored version is still
	// expectedVersion, appending payments the ledger has not seen yet. On
	// success receipt.Version is advanced.
	SaveReceipt(ctx context.Context, receipt *domain.Receipt, expectedVersion int) error
	ListReceiptsByShift(ctx context.Context, shiftID string) ([]domain.Receipt, error)
}

type PaymentLedger interface {
	AppendPayment(ctx context.Context, payment domain.Payment) error
	ListPayments(ctx context.Context, receiptID string) ([]domain.Payment, error)
}

type ShiftStore interface {
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	CloseShift(ctx context.Context, id string, closedAt time.Time) (*domain.Shift, error)
}

type Repository interface {
	ProductCatalog
	CampaignCatalog
	ReceiptStore
	PaymentLedger
	ShiftStore
	Ping(ctx context.Context) error
}
