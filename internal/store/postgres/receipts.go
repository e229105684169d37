package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/store"
)

const receiptColumns = `id, shift_id, status, currency, draft_lines, lines,
	subtotal, discount_total, grand_total, version, created_at, updated_at, closed_at`

const paymentColumns = `id, receipt_id, tendered, tender_currency, amount_in_base,
	rate_at_capture, status, captured_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) CreateReceipt(ctx context.Context, receipt *domain.Receipt) error {
	if receipt == nil || receipt.ID == "" {
		return fmt.Errorf("%w: receipt id is required", domain.ErrValidation)
	}
	drafts, lines, err := encodeLines(receipt)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,$10,$11,$12)
	`, receipt.ID, receipt.ShiftID, receipt.Status, receipt.Currency, drafts, lines,
		receipt.Subtotal, receipt.DiscountTotal, receipt.GrandTotal,
		receipt.CreatedAt, receipt.UpdatedAt, nullTime(receipt.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("receipt %s already exists: %w", receipt.ID, store.ErrConflict)
		}
		return store.Wrap("create receipt", err)
	}
	receipt.Version = 1
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get receipt", err)
	}

	payments, err := s.ListPayments(ctx, id)
	if err != nil {
		return nil, err
	}
	receipt.Payments = payments
	return receipt, nil
}

func (s *Store) SaveReceipt(ctx context.Context, receipt *domain.Receipt, expectedVersion int) error {
	drafts, lines, err := encodeLines(receipt)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap("save receipt", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE receipts
		SET status = $2, draft_lines = $3, lines = $4, subtotal = $5, discount_total = $6,
			grand_total = $7, version = version + 1, updated_at = $8, closed_at = $9
		WHERE id = $1 AND version = $10
	`, receipt.ID, receipt.Status, drafts, lines, receipt.Subtotal, receipt.DiscountTotal,
		receipt.GrandTotal, receipt.UpdatedAt, nullTime(receipt.ClosedAt), expectedVersion)
	if err != nil {
		return store.Wrap("save receipt", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("save receipt", err)
	}
	if affected == 0 {
		var current int
		err := tx.QueryRowContext(ctx, `SELECT version FROM receipts WHERE id = $1`, receipt.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return store.Wrap("save receipt", err)
		}
		return fmt.Errorf("receipt %s at version %d, expected %d: %w", receipt.ID, current, expectedVersion, store.ErrConflict)
	}

	for _, p := range receipt.Payments {
		if err := insertPayment(ctx, tx, p, true); err != nil {
			return store.Wrap("save receipt", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Wrap("save receipt", err)
	}
	receipt.Version = expectedVersion + 1
	return nil
}

func (s *Store) ListReceiptsByShift(ctx context.Context, shiftID string) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE shift_id = $1
		ORDER BY created_at ASC, id ASC
	`, shiftID)
	if err != nil {
		return nil, store.Wrap("list receipts", err)
	}
	defer rows.Close()

	receipts := make([]domain.Receipt, 0, 32)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, store.Wrap("list receipts", err)
		}
		receipts = append(receipts, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list receipts", err)
	}

	for i := range receipts {
		payments, err := s.ListPayments(ctx, receipts[i].ID)
		if err != nil {
			return nil, err
		}
		receipts[i].Payments = payments
	}
	return receipts, nil
}

func (s *Store) AppendPayment(ctx context.Context, payment domain.Payment) error {
	err := insertPayment(ctx, s.db, payment, false)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("payment %s already recorded: %w", payment.ID, store.ErrConflict)
	}
	return store.Wrap("append payment", err)
}

func insertPayment(ctx context.Context, db execer, p domain.Payment, skipExisting bool) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if skipExisting {
		query += ` ON CONFLICT (id) DO NOTHING`
	}
	_, err := db.ExecContext(ctx, query, p.ID, p.ReceiptID, p.Tendered, p.TenderCurrency,
		p.AmountInBase, p.RateAtCapture, p.Status, p.CapturedAt)
	return err
}

func (s *Store) ListPayments(ctx context.Context, receiptID string) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE receipt_id = $1
		ORDER BY captured_at ASC, id ASC
	`, receiptID)
	if err != nil {
		return nil, store.Wrap("list payments", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.ReceiptID, &p.Tendered, &p.TenderCurrency, &p.AmountInBase,
			&p.RateAtCapture, &p.Status, &p.CapturedAt); err != nil {
			return nil, store.Wrap("list payments", err)
		}
		p.CapturedAt = p.CapturedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list payments", err)
	}
	return payments, nil
}

func scanReceipt(row rowScanner) (*domain.Receipt, error) {
	var r domain.Receipt
	var drafts, lines []byte
	var closedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.ShiftID, &r.Status, &r.Currency, &drafts, &lines,
		&r.Subtotal, &r.DiscountTotal, &r.GrandTotal, &r.Version,
		&r.CreatedAt, &r.UpdatedAt, &closedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(drafts, &r.DraftLines); err != nil {
		return nil, fmt.Errorf("receipt %s draft lines: %w", r.ID, err)
	}
	if err := json.Unmarshal(lines, &r.Lines); err != nil {
		return nil, fmt.Errorf("receipt %s lines: %w", r.ID, err)
	}
	if r.DraftLines == nil {
		r.DraftLines = []domain.DraftLine{}
	}
	if r.Lines == nil {
		r.Lines = []domain.EvaluatedLine{}
	}
	r.Payments = []domain.Payment{}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		r.ClosedAt = &at
	}
	return &r, nil
}

func encodeLines(receipt *domain.Receipt) (string, string, error) {
	drafts := receipt.DraftLines
	if drafts == nil {
		drafts = []domain.DraftLine{}
	}
	lines := receipt.Lines
	if lines == nil {
		lines = []domain.EvaluatedLine{}
	}
	d, err := json.Marshal(drafts)
	if err != nil {
		return "", "", err
	}
	l, err := json.Marshal(lines)
	if err != nil {
		return "", "", err
	}
	return string(d), string(l), nil
}
