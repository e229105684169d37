package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func TestSaveReceiptChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	now := time.Now().UTC()

	r := domain.NewReceipt("rcpt-1", DemoShiftID, domain.GEL, now)
	require.NoError(t, s.CreateReceipt(ctx, r))
	assert.Equal(t, 1, r.Version)

	a, err := s.GetReceipt(ctx, "rcpt-1")
	require.NoError(t, err)
	b, err := s.GetReceipt(ctx, "rcpt-1")
	require.NoError(t, err)

	require.NoError(t, a.AddDraft("SKU-LOBI-01", 1, decimal.RequireFromString("7.00")))
	require.NoError(t, s.SaveReceipt(ctx, a, a.Version))
	assert.Equal(t, 2, a.Version)

	require.NoError(t, b.AddDraft("SKU-CUP-01", 1, decimal.RequireFromString("0.30")))
	err = s.SaveReceipt(ctx, b, b.Version)
	assert.ErrorIs(t, err, store.ErrConflict)

	stored, err := s.GetReceipt(ctx, "rcpt-1")
	require.NoError(t, err)
	require.Len(t, stored.DraftLines, 1)
	assert.Equal(t, "SKU-LOBI-01", stored.DraftLines[0].ProductID)
}

func TestGetReceiptReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := domain.NewReceipt("rcpt-1", "shift-1", domain.GEL, time.Now())
	require.NoError(t, s.CreateReceipt(ctx, r))

	got, err := s.GetReceipt(ctx, "rcpt-1")
	require.NoError(t, err)
	got.DraftLines = append(got.DraftLines, domain.DraftLine{ProductID: "x", Quantity: 1})

	again, err := s.GetReceipt(ctx, "rcpt-1")
	require.NoError(t, err)
	assert.Empty(t, again.DraftLines)

	_, err = s.GetReceipt(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveReceiptAppendsNewPaymentsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := domain.NewReceipt("rcpt-1", "shift-1", domain.GEL, time.Now())
	require.NoError(t, s.CreateReceipt(ctx, r))

	r.Payments = append(r.Payments, domain.Payment{ID: "pay-1", ReceiptID: "rcpt-1", Status: domain.PaymentStatusCompleted})
	require.NoError(t, s.SaveReceipt(ctx, r, r.Version))
	require.NoError(t, s.SaveReceipt(ctx, r, r.Version))

	payments, err := s.ListPayments(ctx, "rcpt-1")
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	err = s.AppendPayment(ctx, domain.Payment{ID: "pay-1", ReceiptID: "rcpt-1"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestListActiveCampaignsKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rule := domain.DiscountRule{Scope: domain.ScopeReceipt, Percent: decimal.NewFromInt(5)}

	for _, c := range []domain.Campaign{
		{ID: "c1", Name: "first", Rule: rule, Active: true, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)},
		{ID: "c2", Name: "expired", Rule: rule, Active: true, StartsAt: now.Add(-2 * time.Hour), EndsAt: now},
		{ID: "c3", Name: "third", Rule: rule, Active: true, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)},
	} {
		_, err := s.CreateCampaign(ctx, c)
		require.NoError(t, err)
	}

	_, err := s.DeactivateCampaign(ctx, "c3")
	require.NoError(t, err)

	active, err := s.ListActiveCampaigns(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c1", active[0].ID)

	_, err = s.DeactivateCampaign(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestShiftLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	shift, err := s.CreateShift(ctx, domain.Shift{TerminalID: "t1", CashierName: "Nino"})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusOpen, shift.Status)

	_, err = s.CreateShift(ctx, domain.Shift{TerminalID: "t1", CashierName: "Giorgi"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	closed, err := s.CloseShift(ctx, shift.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	_, err = s.CloseShift(ctx, shift.ID, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestGetProductsOmitsUnknown(t *testing.T) {
	s := NewSeeded()

	found, err := s.GetProducts(context.Background(), []string{"SKU-LOBI-01", "SKU-NOPE"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, "SKU-LOBI-01")
}
