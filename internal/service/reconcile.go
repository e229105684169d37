package service

import (
	"time"

	"kassa/backend/internal/domain"
)

// Reconcile closes r once completed payments cover the grand total. Partial
// payment leaves it open.
func Reconcile(r *domain.Receipt, now time.Time) (domain.Reconciliation, error) {
	if r.IsOpen() && r.FullyPaid() {
		if err := r.Close(now); err != nil {
			return domain.Reconciliation{}, err
		}
	}
	return domain.Reconciliation{
		Paid:      r.PaidInBase(),
		Balance:   r.Balance(),
		ChangeDue: r.ChangeDue(),
		Closed:    !r.IsOpen(),
	}, nil
}
