package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	GEL Currency = "GEL"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

const BaseCurrency = GEL

type Product struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

type Shift struct {
	ID          string     `json:"id"`
	TerminalID  string     `json:"terminal_id"`
	CashierName string     `json:"cashier_name"`
	Status      string     `json:"status"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rule      Rule      `json:"-"`
	Active    bool      `json:"active"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
}

// InEffect reports whether the campaign applies at instant t.
func (c Campaign) InEffect(t time.Time) bool {
	return c.Active && !t.Before(c.StartsAt) && t.Before(c.EndsAt)
}

type CampaignCreateRequest struct {
	Name     string    `json:"name"`
	Rule     Rule      `json:"-"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// DraftLine is what the cashier scanned. It is the only input to evaluation.
type DraftLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l DraftLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type AppliedDiscount struct {
	CampaignID   string          `json:"campaign_id"`
	CampaignName string          `json:"campaign_name"`
	Amount       decimal.Decimal `json:"amount"`
}

type EvaluatedLine struct {
	ProductID    string            `json:"product_id"`
	Quantity     int               `json:"quantity"`
	UnitPrice    decimal.Decimal   `json:"unit_price"`
	LineSubtotal decimal.Decimal   `json:"line_subtotal"`
	Discounts    []AppliedDiscount `json:"discounts"`
	FinalPrice   decimal.Decimal   `json:"final_price"`
	Synthesized  bool              `json:"synthesized"`
}

// Applied returns the single winning discount, if any.
func (l EvaluatedLine) Applied() (AppliedDiscount, bool) {
	if len(l.Discounts) == 0 {
		return AppliedDiscount{}, false
	}
	return l.Discounts[0], true
}

func (l EvaluatedLine) DiscountAmount() decimal.Decimal {
	applied, ok := l.Applied()
	if !ok {
		return decimal.Zero
	}
	return applied.Amount
}

type Evaluation struct {
	Lines         []EvaluatedLine `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

type ReceiptStatus string

const (
	ReceiptStatusOpen   ReceiptStatus = "open"
	ReceiptStatusClosed ReceiptStatus = "closed"
)

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID             string          `json:"id"`
	ReceiptID      string          `json:"receipt_id"`
	Tendered       decimal.Decimal `json:"tendered"`
	TenderCurrency Currency        `json:"tender_currency"`
	AmountInBase   decimal.Decimal `json:"amount_in_base"`
	RateAtCapture  decimal.Decimal `json:"rate_at_capture"`
	Status         PaymentStatus   `json:"status"`
	CapturedAt     time.Time       `json:"captured_at"`
}

type Quote struct {
	ReceiptID      string          `json:"receipt_id"`
	BaseCurrency   Currency        `json:"base_currency"`
	TargetCurrency Currency        `json:"target_currency"`
	Rate           decimal.Decimal `json:"rate"`
	TotalInBase    decimal.Decimal `json:"total_in_base"`
	TotalInTarget  decimal.Decimal `json:"total_in_target"`
}

type Reconciliation struct {
	Paid      decimal.Decimal `json:"paid"`
	Balance   decimal.Decimal `json:"balance"`
	ChangeDue decimal.Decimal `json:"change_due"`
	Closed    bool            `json:"closed"`
}

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)
