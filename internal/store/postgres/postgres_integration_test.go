package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/store"
)

func TestReceiptRoundTripAgainstPostgres(t *testing.T) {
	databaseURL := os.Getenv("KASSA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASSA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	shiftID := fmt.Sprintf("shift-it-%d", stamp)
	receiptID := fmt.Sprintf("rcpt-it-%d", stamp)
	paymentID := fmt.Sprintf("pay-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE receipt_id = $1`, receiptID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = $1`, receiptID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id = $1`, shiftID)
	})

	if _, err := s.CreateShift(ctx, domain.Shift{ID: shiftID, TerminalID: shiftID, CashierName: "Integration"}); err != nil {
		t.Fatalf("create shift: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	r := domain.NewReceipt(receiptID, shiftID, domain.GEL, now)
	if err := s.CreateReceipt(ctx, r); err != nil {
		t.Fatalf("create receipt: %v", err)
	}

	if err := r.AddDraft("SKU-IT", 2, decimal.RequireFromString("5.00")); err != nil {
		t.Fatalf("add draft: %v", err)
	}
	r.Payments = append(r.Payments, domain.Payment{
		ID:             paymentID,
		ReceiptID:      receiptID,
		Tendered:       decimal.RequireFromString("3.00"),
		TenderCurrency: domain.GEL,
		AmountInBase:   decimal.RequireFromString("3.00"),
		RateAtCapture:  decimal.NewFromInt(1),
		Status:         domain.PaymentStatusCompleted,
		CapturedAt:     now,
	})
	if err := s.SaveReceipt(ctx, r, 1); err != nil {
		t.Fatalf("save receipt: %v", err)
	}
	if err := s.SaveReceipt(ctx, r, 1); err == nil {
		t.Fatalf("expected conflict on stale version")
	} else if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetReceipt(ctx, receiptID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}
	if len(got.DraftLines) != 1 || got.DraftLines[0].Quantity != 2 {
		t.Fatalf("unexpected draft lines: %+v", got.DraftLines)
	}
	if len(got.Payments) != 1 || !got.Payments[0].AmountInBase.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("unexpected payments: %+v", got.Payments)
	}
}
