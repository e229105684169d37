package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Receipt struct {
	ID            string          `json:"id"`
	ShiftID       string          `json:"shift_id"`
	Status        ReceiptStatus   `json:"status"`
	Currency      Currency        `json:"currency"`
	DraftLines    []DraftLine     `json:"draft_lines"`
	Lines         []EvaluatedLine `json:"lines"`
	Payments      []Payment       `json:"payments"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

func NewReceipt(id string, shiftID string, currency Currency, now time.Time) *Receipt {
	return &Receipt{
		ID:            id,
		ShiftID:       shiftID,
		Status:        ReceiptStatusOpen,
		Currency:      currency,
		DraftLines:    []DraftLine{},
		Lines:         []EvaluatedLine{},
		Payments:      []Payment{},
		Subtotal:      decimal.Zero,
		DiscountTotal: decimal.Zero,
		GrandTotal:    decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *Receipt) IsOpen() bool {
	return r.Status == ReceiptStatusOpen
}

// EnsureOpen rejects action on a closed receipt with ErrInvalidState.
func (r *Receipt) EnsureOpen(action string) error {
	if !r.IsOpen() {
		return fmt.Errorf("%w: cannot %s on closed receipt %s", ErrInvalidState, action, r.ID)
	}
	return nil
}

// AddDraft merges qty into the draft line for productID, or appends a new one.
// A merged line keeps the unit price it was first added with.
func (r *Receipt) AddDraft(productID string, qty int, unitPrice decimal.Decimal) error {
	if err := r.EnsureOpen("add line"); err != nil {
		return err
	}
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrValidation)
	}
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if unitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price cannot be negative", ErrValidation)
	}

	for i := range r.DraftLines {
		if r.DraftLines[i].ProductID == productID {
			r.DraftLines[i].Quantity += qty
			return nil
		}
	}
	r.DraftLines = append(r.DraftLines, DraftLine{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: unitPrice,
	})
	return nil
}

// RemoveDraft decrements the draft line for productID. qty 0, or a qty at or
// above the line quantity, drops the line. It reports false when the product
// is not on the receipt.
func (r *Receipt) RemoveDraft(productID string, qty int) (bool, error) {
	if err := r.EnsureOpen("remove line"); err != nil {
		return false, err
	}
	if qty < 0 {
		return false, fmt.Errorf("%w: quantity cannot be negative", ErrValidation)
	}

	for i := range r.DraftLines {
		if r.DraftLines[i].ProductID != productID {
			continue
		}
		if qty == 0 || qty >= r.DraftLines[i].Quantity {
			r.DraftLines = append(r.DraftLines[:i], r.DraftLines[i+1:]...)
		} else {
			r.DraftLines[i].Quantity -= qty
		}
		return true, nil
	}
	return false, nil
}

// ApplyEvaluation replaces the derived lines and totals wholesale.
func (r *Receipt) ApplyEvaluation(ev Evaluation, now time.Time) error {
	if err := r.EnsureOpen("apply evaluation"); err != nil {
		return err
	}
	lines := ev.Lines
	if lines == nil {
		lines = []EvaluatedLine{}
	}
	r.Lines = lines
	r.Subtotal = ev.Subtotal
	r.DiscountTotal = ev.DiscountTotal
	r.GrandTotal = ev.GrandTotal
	r.UpdatedAt = now
	return r.CheckTotals()
}

func (r *Receipt) AppendPayment(p Payment, now time.Time) error {
	if err := r.EnsureOpen("record payment"); err != nil {
		return err
	}
	if p.ReceiptID != r.ID {
		return fmt.Errorf("%w: payment %s belongs to receipt %s", ErrValidation, p.ID, p.ReceiptID)
	}
	r.Payments = append(r.Payments, p)
	r.UpdatedAt = now
	return nil
}

// PaidInBase sums completed payments in the receipt currency.
func (r *Receipt) PaidInBase() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range r.Payments {
		if p.Status != PaymentStatusCompleted {
			continue
		}
		paid = paid.Add(p.AmountInBase)
	}
	return paid
}

func (r *Receipt) Balance() decimal.Decimal {
	balance := r.GrandTotal.Sub(r.PaidInBase())
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

func (r *Receipt) ChangeDue() decimal.Decimal {
	change := r.PaidInBase().Sub(r.GrandTotal)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

func (r *Receipt) FullyPaid() bool {
	return r.PaidInBase().GreaterThanOrEqual(r.GrandTotal)
}

// Close moves an open receipt to closed. It refuses while a balance remains.
func (r *Receipt) Close(now time.Time) error {
	if err := r.EnsureOpen("close"); err != nil {
		return err
	}
	if !r.FullyPaid() {
		return fmt.Errorf("%w: receipt %s has outstanding balance %s", ErrInvalidState, r.ID, r.Balance().StringFixed(MoneyScale))
	}
	closedAt := now
	r.Status = ReceiptStatusClosed
	r.ClosedAt = &closedAt
	r.UpdatedAt = now
	return nil
}

// CheckTotals verifies the derived totals agree with the evaluated lines.
func (r *Receipt) CheckTotals() error {
	subtotal := decimal.Zero
	discount := decimal.Zero
	for _, line := range r.Lines {
		if !line.LineSubtotal.Equal(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))) {
			return fmt.Errorf("%w: line %s subtotal mismatch", ErrInvalidState, line.ProductID)
		}
		if len(line.Discounts) > 1 {
			return fmt.Errorf("%w: line %s has stacked discounts", ErrInvalidState, line.ProductID)
		}
		if !line.FinalPrice.Equal(line.LineSubtotal.Sub(line.DiscountAmount())) {
			return fmt.Errorf("%w: line %s final price mismatch", ErrInvalidState, line.ProductID)
		}
		subtotal = subtotal.Add(line.LineSubtotal)
		discount = discount.Add(line.DiscountAmount())
	}
	if !subtotal.Equal(r.Subtotal) {
		return fmt.Errorf("%w: subtotal %s, lines sum to %s", ErrInvalidState, r.Subtotal, subtotal)
	}
	if !discount.Equal(r.DiscountTotal) {
		return fmt.Errorf("%w: discount total %s, lines sum to %s", ErrInvalidState, r.DiscountTotal, discount)
	}
	if !r.GrandTotal.Equal(r.Subtotal.Sub(r.DiscountTotal)) {
		return fmt.Errorf("%w: grand total %s != %s - %s", ErrInvalidState, r.GrandTotal, r.Subtotal, r.DiscountTotal)
	}
	return nil
}

// Clone returns a deep copy safe to hand out of a store.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	out := *r
	out.DraftLines = append([]DraftLine(nil), r.DraftLines...)
	out.Lines = make([]EvaluatedLine, len(r.Lines))
	for i, line := range r.Lines {
		line.Discounts = append([]AppliedDiscount(nil), line.Discounts...)
		out.Lines[i] = line
	}
	out.Payments = append([]Payment(nil), r.Payments...)
	if r.ClosedAt != nil {
		closedAt := *r.ClosedAt
		out.ClosedAt = &closedAt
	}
	if out.DraftLines == nil {
		out.DraftLines = []DraftLine{}
	}
	if out.Payments == nil {
		out.Payments = []Payment{}
	}
	return &out
}
