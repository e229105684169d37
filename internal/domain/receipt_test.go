package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAddDraftMergesAndKeepsFirstPrice(t *testing.T) {
	r := NewReceipt("rcpt-1", "shift-1", GEL, testNow)

	require.NoError(t, r.AddDraft("p1", 2, dec("3.00")))
	require.NoError(t, r.AddDraft("p1", 1, dec("4.50")))
	require.NoError(t, r.AddDraft("p2", 1, dec("1.00")))

	require.Len(t, r.DraftLines, 2)
	assert.Equal(t, 3, r.DraftLines[0].Quantity)
	assert.True(t, r.DraftLines[0].UnitPrice.Equal(dec("3.00")))
}

func TestAddDraftRejectsBadQuantity(t *testing.T) {
	r := NewReceipt("rcpt-1", "shift-1", GEL, testNow)

	err := r.AddDraft("p1", 0, dec("1.00"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, r.DraftLines)
}

func TestRemoveDraft(t *testing.T) {
	r := NewReceipt("rcpt-1", "shift-1", GEL, testNow)
	require.NoError(t, r.AddDraft("p1", 5, dec("1.00")))

	found, err := r.RemoveDraft("p1", 2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, r.DraftLines[0].Quantity)

	found, err = r.RemoveDraft("p1", 10)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, r.DraftLines)

	found, err = r.RemoveDraft("p1", 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClosedReceiptRejectsMutation(t *testing.T) {
	r := NewReceipt("rcpt-1", "shift-1", GEL, testNow)
	require.NoError(t, r.Close(testNow))
	require.NotNil(t, r.ClosedAt)

	assert.ErrorIs(t, r.AddDraft("p1", 1, dec("1.00")), ErrInvalidState)
	_, err := r.RemoveDraft("p1", 1)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, r.AppendPayment(Payment{ReceiptID: "rcpt-1"}, testNow), ErrInvalidState)
	assert.ErrorIs(t, r.Close(testNow), ErrInvalidState)
}

func TestPaidInBaseIgnoresFailedPayments(t *testing.T) {
	r := NewReceipt("rcpt-1", "shift-1", GEL, testNow)
	r.GrandTotal = dec("10.00")
	r.Subtotal = dec("10.00")
	r.DiscountTotal = decimal.Zero

	require.NoError(t, r.AppendPayment(Payment{ID: "a", ReceiptID: "rcpt-1", AmountInBase: dec("4.00"), Status: PaymentStatusCompleted}, testNow))
	require.NoError(t, r.AppendPayment(Payment{ID: "b", ReceiptID: "rcpt-1", AmountInBase: dec("20.00"), Status: PaymentStatusFailed}, testNow))

	assert.True(t, r.PaidInBase().Equal(dec("4.00")))
	assert.True(t, r.Balance().Equal(dec("6.00")))
	assert.True(t, r.ChangeDue().IsZero())
	assert.False(t, r.FullyPaid())
	assert.ErrorIs(t, r.Close(testNow), ErrInvalidState)

	require.NoError(t, r.AppendPayment(Payment{ID: "c", ReceiptID: "rcpt-1", AmountInBase: dec("7.50"), Status: PaymentStatusCompleted}, testNow))
	assert.True(t, r.ChangeDue().Equal(dec("1.50")))
	assert.True(t, r.Balance().IsZero())
	require.NoError(t, r.Close(testNow))
}

func TestApplyEvaluationChecksTotals(t *testing.T) {
	r := NewReceipt("rcpt-1", "shift-1", GEL, testNow)
	line := EvaluatedLine{
		ProductID:    "p1",
		Quantity:     2,
		UnitPrice:    dec("5.00"),
		LineSubtotal: dec("10.00"),
		Discounts:    []AppliedDiscount{{CampaignID: "c1", Amount: dec("1.00")}},
		FinalPrice:   dec("9.00"),
	}

	err := r.ApplyEvaluation(Evaluation{
		Lines:         []EvaluatedLine{line},
		Subtotal:      dec("10.00"),
		DiscountTotal: dec("1.00"),
		GrandTotal:    dec("9.00"),
	}, testNow)
	require.NoError(t, err)

	err = r.ApplyEvaluation(Evaluation{
		Lines:         []EvaluatedLine{line},
		Subtotal:      dec("10.00"),
		DiscountTotal: dec("1.00"),
		GrandTotal:    dec("10.00"),
	}, testNow)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestCloneIsDeep(t *testing.T) {
	r := NewReceipt("rcpt-1", "shift-1", GEL, testNow)
	require.NoError(t, r.AddDraft("p1", 1, dec("1.00")))
	r.Lines = []EvaluatedLine{{ProductID: "p1", Discounts: []AppliedDiscount{{CampaignID: "c1"}}}}

	cp := r.Clone()
	cp.DraftLines[0].Quantity = 9
	cp.Lines[0].Discounts[0].CampaignID = "other"

	assert.Equal(t, 1, r.DraftLines[0].Quantity)
	assert.Equal(t, "c1", r.Lines[0].Discounts[0].CampaignID)
}
