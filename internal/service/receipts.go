package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kassa/backend/internal/currency"
	"kassa/backend/internal/discount"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/metrics"
	"kassa/backend/internal/store"
	"kassa/backend/internal/xid"
)

type PaymentResult struct {
	Receipt        domain.Receipt        `json:"receipt"`
	Payment        domain.Payment        `json:"payment"`
	Reconciliation domain.Reconciliation `json:"reconciliation"`
}

func (s *Service) CreateReceipt(ctx context.Context, shiftID string) (domain.Receipt, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return domain.Receipt{}, fmt.Errorf("%w: shift id is required", domain.ErrValidation)
	}

	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return domain.Receipt{}, fmt.Errorf("%w: shift %s is %s", domain.ErrInvalidState, shiftID, shift.Status)
	}

	receipt := domain.NewReceipt(xid.New("rcpt"), shiftID, s.converter.Base(), s.now())
	if err := s.repo.CreateReceipt(ctx, receipt); err != nil {
		return domain.Receipt{}, err
	}

	s.metrics.ReceiptCreated()
	s.logger.Info("receipt opened", zap.String("receipt_id", receipt.ID), zap.String("shift_id", shiftID))
	return *receipt, nil
}

func (s *Service) GetReceipt(ctx context.Context, receiptID string) (domain.Receipt, error) {
	r, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return domain.Receipt{}, err
	}
	return *r, nil
}

func (s *Service) ListShiftReceipts(ctx context.Context, shiftID string) ([]domain.Receipt, error) {
	if _, err := s.repo.GetShift(ctx, shiftID); err != nil {
		return nil, err
	}
	return s.repo.ListReceiptsByShift(ctx, shiftID)
}

// AddLine adds qty units of productID at its current catalog price, then
// re-prices the whole receipt.
func (s *Service) AddLine(ctx context.Context, receiptID string, productID string, qty int) (domain.Receipt, error) {
	receipt, err := s.addLine(ctx, receiptID, productID, qty)
	s.metrics.ReceiptMutation("add_line", err)
	return receipt, err
}

func (s *Service) addLine(ctx context.Context, receiptID string, productID string, qty int) (domain.Receipt, error) {
	return s.mutate(ctx, receiptID, func(r *domain.Receipt, now time.Time) error {
		if err := r.EnsureOpen("add line"); err != nil {
			return err
		}
		if qty < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", domain.ErrValidation)
		}
		product, err := s.repo.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := r.AddDraft(product.ID, qty, product.Price); err != nil {
			return err
		}
		return s.reevaluate(ctx, r, now)
	})
}

// RemoveLine takes qty units of productID off the receipt. qty 0 removes the
// whole line.
func (s *Service) RemoveLine(ctx context.Context, receiptID string, productID string, qty int) (domain.Receipt, error) {
	receipt, err := s.mutate(ctx, receiptID, func(r *domain.Receipt, now time.Time) error {
		found, err := r.RemoveDraft(productID, qty)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("product %s on receipt %s: %w", productID, r.ID, store.ErrNotFound)
		}
		return s.reevaluate(ctx, r, now)
	})
	s.metrics.ReceiptMutation("remove_line", err)
	return receipt, err
}

// Quote prices the receipt total in another currency without touching it.
func (s *Service) Quote(ctx context.Context, receiptID string, code string) (domain.Quote, error) {
	target, err := currency.ParseCode(code)
	if err != nil {
		return domain.Quote{}, err
	}
	r, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return domain.Quote{}, err
	}
	rate, err := s.converter.GetRate(ctx, r.Currency, target)
	if err != nil {
		return domain.Quote{}, err
	}

	return domain.Quote{
		ReceiptID:      r.ID,
		BaseCurrency:   r.Currency,
		TargetCurrency: target,
		Rate:           rate,
		TotalInBase:    r.GrandTotal,
		TotalInTarget:  domain.RoundMoney(r.GrandTotal.Mul(rate)),
	}, nil
}

// RecordPayment converts amount to the receipt currency at the current rate,
// freezes that rate on the payment and closes the receipt once it is paid.
func (s *Service) RecordPayment(ctx context.Context, receiptID string, amount decimal.Decimal, code string) (PaymentResult, error) {
	result, err := s.recordPayment(ctx, receiptID, amount, code)
	s.metrics.Payment(s.currencyLabel(ctx, code), err)
	return result, err
}

// currencyLabel keeps the metric label set bounded to codes the converter
// knows.
func (s *Service) currencyLabel(ctx context.Context, code string) string {
	c, err := currency.ParseCode(code)
	if err != nil || !s.converter.Supports(ctx, c) {
		return metrics.UnsupportedCurrency
	}
	return string(c)
}

func (s *Service) recordPayment(ctx context.Context, receiptID string, amount decimal.Decimal, code string) (PaymentResult, error) {
	if !amount.IsPositive() {
		return PaymentResult{}, fmt.Errorf("%w: payment amount must be positive", domain.ErrValidation)
	}
	if !amount.Equal(domain.RoundMoney(amount)) {
		return PaymentResult{}, fmt.Errorf("%w: payment amount %s has more than %d decimal places", domain.ErrValidation, amount, domain.MoneyScale)
	}
	tendered := domain.RoundMoney(amount)
	tender, err := currency.ParseCode(code)
	if err != nil {
		return PaymentResult{}, err
	}

	var (
		payment domain.Payment
		rec     domain.Reconciliation
	)
	receipt, err := s.mutate(ctx, receiptID, func(r *domain.Receipt, now time.Time) error {
		if err := r.EnsureOpen("record payment"); err != nil {
			return err
		}
		inBase, rate, err := s.converter.Convert(ctx, tendered, tender, r.Currency)
		if err != nil {
			return err
		}

		payment = domain.Payment{
			ID:             xid.New("pay"),
			ReceiptID:      r.ID,
			Tendered:       tendered,
			TenderCurrency: tender,
			AmountInBase:   inBase,
			RateAtCapture:  rate,
			Status:         domain.PaymentStatusCompleted,
			CapturedAt:     now,
		}
		if err := r.AppendPayment(payment, now); err != nil {
			return err
		}
		rec, err = Reconcile(r, now)
		return err
	})
	if err != nil {
		return PaymentResult{}, err
	}

	s.logger.Info("payment recorded",
		zap.String("receipt_id", receipt.ID),
		zap.String("payment_id", payment.ID),
		zap.String("currency", string(tender)),
		zap.String("amount_in_base", payment.AmountInBase.StringFixed(domain.MoneyScale)),
		zap.Bool("closed", rec.Closed),
	)
	if rec.Closed {
		s.metrics.ReceiptClosed()
	}
	return PaymentResult{Receipt: receipt, Payment: payment, Reconciliation: rec}, nil
}

// mutate runs fn on the latest copy of the receipt under its lock and saves
// the result against the version that was read.
func (s *Service) mutate(ctx context.Context, receiptID string, fn func(r *domain.Receipt, now time.Time) error) (domain.Receipt, error) {
	unlock := s.locks.Lock(receiptID)
	defer unlock()

	r, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return domain.Receipt{}, err
	}
	expected := r.Version

	if err := fn(r, s.now()); err != nil {
		return domain.Receipt{}, err
	}
	if err := s.repo.SaveReceipt(ctx, r, expected); err != nil {
		s.logger.Warn("receipt save failed", zap.String("receipt_id", receiptID), zap.Error(err))
		return domain.Receipt{}, err
	}
	return *r, nil
}

func (s *Service) reevaluate(ctx context.Context, r *domain.Receipt, now time.Time) error {
	campaigns, err := s.repo.ListActiveCampaigns(ctx, now)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(r.DraftLines))
	seen := make(map[string]struct{}, len(r.DraftLines))
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, d := range r.DraftLines {
		add(d.ProductID)
	}
	for _, c := range campaigns {
		if c.Rule == nil {
			continue
		}
		for _, id := range c.Rule.References() {
			add(id)
		}
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return err
	}

	started := time.Now()
	ev, err := s.engine.Evaluate(r.DraftLines, campaigns, discount.ProductMap(products))
	s.metrics.ObserveEvaluation(time.Since(started))
	if err != nil {
		return err
	}
	return r.ApplyEvaluation(ev, now)
}
