package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/store"
	"kassa/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return store.Wrap("ping", s.db.PingContext(ctx))
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, store.Wrap("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, store.Wrap("list products", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE id = $1 AND active = true
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get product", err)
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, store.Wrap("get products", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, store.Wrap("get products", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("get products", err)
	}
	return result, nil
}

const campaignColumns = `id, name, rule, active, starts_at, ends_at, created_at`

func (s *Store) CreateCampaign(ctx context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	campaign.Name = strings.TrimSpace(campaign.Name)
	if campaign.Name == "" || campaign.Rule == nil {
		return nil, fmt.Errorf("%w: campaign needs a name and a rule", domain.ErrValidation)
	}
	rule, err := domain.MarshalRule(campaign.Rule)
	if err != nil {
		return nil, err
	}
	if campaign.ID == "" {
		campaign.ID = xid.New("camp")
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, campaign.ID, campaign.Name, string(rule), campaign.Active, campaign.StartsAt, campaign.EndsAt, campaign.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: campaign %s already exists", domain.ErrValidation, campaign.ID)
		}
		return nil, store.Wrap("create campaign", err)
	}
	saved := campaign
	return &saved, nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get campaign", err)
	}
	return c, nil
}

func (s *Store) ListActiveCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE active = true AND starts_at <= $1 AND ends_at > $1
		ORDER BY created_at ASC, id ASC
	`, now)
	if err != nil {
		return nil, store.Wrap("list campaigns", err)
	}
	defer rows.Close()

	campaigns := make([]domain.Campaign, 0, 16)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, store.Wrap("list campaigns", err)
		}
		campaigns = append(campaigns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list campaigns", err)
	}
	return campaigns, nil
}

func (s *Store) DeactivateCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE campaigns
		SET active = false
		WHERE id = $1
		RETURNING `+campaignColumns, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("deactivate campaign", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var rule []byte
	if err := row.Scan(&c.ID, &c.Name, &rule, &c.Active, &c.StartsAt, &c.EndsAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := domain.UnmarshalRule(rule)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	c.Rule = parsed
	c.StartsAt = c.StartsAt.UTC()
	c.EndsAt = c.EndsAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

const shiftColumns = `id, terminal_id, cashier_name, status, opened_at, closed_at`

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.TerminalID) == "" || strings.TrimSpace(shift.CashierName) == "" {
		return nil, fmt.Errorf("%w: terminal and cashier are required", domain.ErrValidation)
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, shift.ID, shift.TerminalID, shift.CashierName, shift.Status, shift.OpenedAt, nullTime(shift.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: terminal %s already has an open shift", domain.ErrInvalidState, shift.TerminalID)
		}
		return nil, store.Wrap("create shift", err)
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id)
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get shift", err)
	}
	return shift, nil
}

func (s *Store) CloseShift(ctx context.Context, id string, closedAt time.Time) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING `+shiftColumns, id, closedAt)
	shift, err := scanShift(row)
	if err == nil {
		return shift, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, store.Wrap("close shift", err)
	}

	if _, getErr := s.GetShift(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: shift %s is not open", domain.ErrInvalidState, id)
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	if err := row.Scan(&shift.ID, &shift.TerminalID, &shift.CashierName, &shift.Status, &shift.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
