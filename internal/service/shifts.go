package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, terminalID string, cashierName string) (domain.Shift, error) {
	terminalID = strings.TrimSpace(terminalID)
	cashierName = strings.TrimSpace(cashierName)
	if terminalID == "" || cashierName == "" {
		return domain.Shift{}, fmt.Errorf("%w: terminal and cashier are required", domain.ErrValidation)
	}

	saved, err := s.repo.CreateShift(ctx, domain.Shift{
		ID:          xid.New("shift"),
		TerminalID:  terminalID,
		CashierName: cashierName,
		Status:      domain.ShiftStatusOpen,
		OpenedAt:    s.now(),
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.logger.Info("shift opened", zap.String("shift_id", saved.ID), zap.String("terminal_id", terminalID))
	return *saved, nil
}

// CloseShift stops new receipts on the shift. Receipts already open on it
// can still be paid.
func (s *Service) CloseShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	closed, err := s.repo.CloseShift(ctx, shiftID, s.now())
	if err != nil {
		return domain.Shift{}, err
	}
	s.logger.Info("shift closed", zap.String("shift_id", shiftID))
	return *closed, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}
