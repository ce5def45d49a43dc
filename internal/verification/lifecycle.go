package verification

import (
	"errors"
	"time"
)

// Validation faults raised by the lifecycle transition. The verifier maps
// them to negative VerificationResults; they never surface as call errors.
var (
	ErrReturnWindowExpired = errors.New("return window expired")
	ErrUnsupportedStatus   = errors.New("unknown or unsupported order status")
)

// advance moves the order to its next lifecycle state and reports the
// transaction type. It is the sole writer of status and max_time after order
// creation and runs inside the store's per-order lock, so the deadline
// re-check here closes the race between order selection and finalization.
func advance(order *Order, now time.Time) (TransactionType, error) {
	switch order.Status {
	case StatusReadyForPickup:
		deadline := now.Add(ReturnWindow)
		order.Status = StatusPickedUp
		order.MaxTime = &deadline
		order.PickedUpAt = &now
		order.UpdatedAt = now
		return TransactionPickup, nil

	case StatusPickedUp:
		if order.MaxTime == nil || !order.MaxTime.After(now) {
			return "", ErrReturnWindowExpired
		}
		order.Status = StatusReturnedPendingRefund
		order.MaxTime = nil
		order.ReturnedAt = &now
		order.UpdatedAt = now
		return TransactionReturn, nil

	default:
		return "", ErrUnsupportedStatus
	}
}
