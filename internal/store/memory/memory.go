package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/store"
	"kassa/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	campaignsByID    map[string]domain.Campaign
	campaignOrder    []string
	receiptsByID     map[string]*domain.Receipt
	receiptsByShift  map[string][]string
	paymentsByID     map[string]domain.Payment
	paymentsByRcptID map[string][]string
	shiftsByID       map[string]domain.Shift
}

func New() *Store {
	return &Store{
		products:         map[string]domain.Product{},
		campaignsByID:    map[string]domain.Campaign{},
		receiptsByID:     map[string]*domain.Receipt{},
		receiptsByShift:  map[string][]string{},
		paymentsByID:     map[string]domain.Payment{},
		paymentsByRcptID: map[string][]string{},
		shiftsByID:       map[string]domain.Shift{},
	}
}

// DemoShiftID is the shift NewSeeded opens for local runs.
const DemoShiftID = "shift-demo"

func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{ID: "SKU-KHACH-01", Name: "Khachapuri Imeruli", Price: decimal.RequireFromString("12.50"), Active: true},
		{ID: "SKU-LOBI-01", Name: "Lobiani", Price: decimal.RequireFromString("7.00"), Active: true},
		{ID: "SKU-BORJ-05", Name: "Borjomi 0.5L", Price: decimal.RequireFromString("2.80"), Active: true},
		{ID: "SKU-CHUR-01", Name: "Churchkhela", Price: decimal.RequireFromString("4.00"), Active: true},
		{ID: "SKU-TKLP-01", Name: "Tkemali 500ml", Price: decimal.RequireFromString("6.40"), Active: true},
		{ID: "SKU-COFF-01", Name: "Coffee Beans 250g", Price: decimal.RequireFromString("18.90"), Active: true},
		{ID: "SKU-CUP-01", Name: "Paper Cup", Price: decimal.RequireFromString("0.30"), Active: true},
	} {
		s.products[p.ID] = p
	}

	now := time.Now().UTC()
	s.shiftsByID[DemoShiftID] = domain.Shift{
		ID:          DemoShiftID,
		TerminalID:  "terminal-1",
		CashierName: "Demo Cashier",
		Status:      domain.ShiftStatusOpen,
		OpenedAt:    now,
	}

	for _, c := range []domain.Campaign{
		{
			ID:   "camp-borjomi-3for2",
			Name: "Borjomi 3 for 2",
			Rule: domain.BuyNGetNRule{BuyProductID: "SKU-BORJ-05", BuyQty: 2, GetProductID: "SKU-BORJ-05", GetQty: 1},
		},
		{
			ID:   "camp-lunch-combo",
			Name: "Lunch combo",
			Rule: domain.ComboRule{ProductIDs: []string{"SKU-KHACH-01", "SKU-BORJ-05"}, Kind: domain.ComboFixed, Value: decimal.RequireFromString("2.00")},
		},
		{
			ID:   "camp-basket-5",
			Name: "5% off baskets over 50",
			Rule: domain.DiscountRule{Scope: domain.ScopeReceipt, MinAmount: decimal.NewFromInt(50), Percent: decimal.NewFromInt(5)},
		},
	} {
		c.Active = true
		c.StartsAt = now.AddDate(0, 0, -1)
		c.EndsAt = now.AddDate(1, 0, 0)
		c.CreatedAt = now
		s.campaignsByID[c.ID] = c
		s.campaignOrder = append(s.campaignOrder, c.ID)
	}
	return s
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok || !p.Active {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) CreateCampaign(_ context.Context, campaign domain.Campaign) (*domain.Campaign, error) {
	if campaign.Rule == nil || strings.TrimSpace(campaign.Name) == "" {
		return nil, fmt.Errorf("%w: campaign needs a name and a rule", domain.ErrValidation)
	}
	if campaign.ID == "" {
		campaign.ID = xid.New("camp")
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.campaignsByID[campaign.ID]; exists {
		return nil, fmt.Errorf("%w: campaign %s already exists", domain.ErrValidation, campaign.ID)
	}
	s.campaignsByID[campaign.ID] = campaign
	s.campaignOrder = append(s.campaignOrder, campaign.ID)
	saved := campaign
	return &saved, nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaignsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListActiveCampaigns(_ context.Context, now time.Time) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Campaign, 0, len(s.campaignOrder))
	for _, id := range s.campaignOrder {
		if c := s.campaignsByID[id]; c.InEffect(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) DeactivateCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaignsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.Active = false
	s.campaignsByID[id] = c
	return &c, nil
}

func (s *Store) CreateReceipt(_ context.Context, receipt *domain.Receipt) error {
	if receipt == nil || receipt.ID == "" {
		return fmt.Errorf("%w: receipt id is required", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receiptsByID[receipt.ID]; exists {
		return fmt.Errorf("%w: receipt %s already exists", store.ErrConflict, receipt.ID)
	}
	receipt.Version = 1
	s.receiptsByID[receipt.ID] = receipt.Clone()
	s.receiptsByShift[receipt.ShiftID] = append(s.receiptsByShift[receipt.ShiftID], receipt.ID)
	return nil
}

func (s *Store) GetReceipt(_ context.Context, id string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receiptsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) SaveReceipt(_ context.Context, receipt *domain.Receipt, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.receiptsByID[receipt.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("receipt %s at version %d, expected %d: %w", receipt.ID, current.Version, expectedVersion, store.ErrConflict)
	}

	for _, p := range receipt.Payments {
		if _, seen := s.paymentsByID[p.ID]; seen {
			continue
		}
		s.appendPaymentLocked(p)
	}

	receipt.Version = expectedVersion + 1
	s.receiptsByID[receipt.ID] = receipt.Clone()
	return nil
}

func (s *Store) ListReceiptsByShift(_ context.Context, shiftID string) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.receiptsByShift[shiftID]
	out := make([]domain.Receipt, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.receiptsByID[id].Clone())
	}
	return out, nil
}

func (s *Store) AppendPayment(_ context.Context, payment domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receiptsByID[payment.ReceiptID]; !ok {
		return store.ErrNotFound
	}
	if _, seen := s.paymentsByID[payment.ID]; seen {
		return fmt.Errorf("%w: payment %s already recorded", store.ErrConflict, payment.ID)
	}
	s.appendPaymentLocked(payment)
	return nil
}

func (s *Store) appendPaymentLocked(payment domain.Payment) {
	s.paymentsByID[payment.ID] = payment
	s.paymentsByRcptID[payment.ReceiptID] = append(s.paymentsByRcptID[payment.ReceiptID], payment.ID)
}

func (s *Store) ListPayments(_ context.Context, receiptID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.paymentsByRcptID[receiptID]
	out := make([]domain.Payment, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.paymentsByID[id])
	}
	return out, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.shiftsByID {
		if existing.TerminalID == shift.TerminalID && existing.Status == domain.ShiftStatusOpen {
			return nil, fmt.Errorf("%w: terminal %s already has an open shift", domain.ErrInvalidState, shift.TerminalID)
		}
	}
	s.shiftsByID[shift.ID] = shift
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (s *Store) CloseShift(_ context.Context, id string, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, ok := s.shiftsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, fmt.Errorf("%w: shift %s is not open", domain.ErrInvalidState, id)
	}
	at := closedAt.UTC()
	shift.Status = domain.ShiftStatusClosed
	shift.ClosedAt = &at
	s.shiftsByID[id] = shift
	return &shift, nil
}
