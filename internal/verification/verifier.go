package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/metrics"
)

const msgInvalidGuestCode = "invalid or expired guest code"

// Verifier authenticates a presented scan event, selects the one order it
// authorizes and advances that order's lifecycle state.
type Verifier struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewVerifier(store Store, logger *zap.Logger) *Verifier {
	return &Verifier{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Verify runs one scan event through the matching authentication path and,
// on success, through the lifecycle transition. A nil error with
// result.Success=false is a validation failure; a non-nil error is a
// persistence fault and leaves the outcome of the call uncertain.
func (v *Verifier) Verify(ctx context.Context, scan ScanEvent) (*VerificationResult, error) {
	if scan.GuestCode != "" {
		return v.verifyGuestCode(ctx, scan)
	}
	return v.verifyDynamicCode(ctx, scan)
}

func (v *Verifier) verifyGuestCode(ctx context.Context, scan ScanEvent) (*VerificationResult, error) {
	// One atomic lookup-and-delete: the credential is spent from here on,
	// whatever the later checks decide. Consumed and never-existed codes are
	// indistinguishable to the caller.
	cred, err := v.store.ConsumeCredential(ctx, scan.GuestCode)
	if errors.Is(err, ErrCredentialNotFound) {
		return failure(AuthGuestCode, msgInvalidGuestCode), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume guest credential: %w", err)
	}
	metrics.GuestCodesConsumedTotal.Inc()

	now := v.now()
	if now.After(cred.ExpiresAt.Add(GuestCodeExpiryTolerance)) {
		v.logger.Info("guest code expired at validation",
			zap.String("order_id", cred.OrderID),
			zap.Time("expires_at", cred.ExpiresAt))
		return failure(AuthGuestCode, msgInvalidGuestCode), nil
	}

	order, err := v.store.OrderByID(ctx, cred.OrderID)
	if errors.Is(err, ErrOrderNotFound) {
		v.logger.Error("guest credential points at a missing order",
			zap.String("order_id", cred.OrderID),
			zap.String("user_id", cred.UserID))
		return failure(AuthGuestCode, "order for this guest code no longer exists"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve order for guest code: %w", err)
	}
	if order.UserID != cred.UserID {
		v.logger.Error("guest credential owner mismatch",
			zap.String("order_id", cred.OrderID),
			zap.String("credential_user_id", cred.UserID),
			zap.String("order_user_id", order.UserID))
		return failure(AuthGuestCode, "order for this guest code no longer exists"), nil
	}

	return v.finalize(ctx, order.ID, order.Status, AuthGuestCode)
}

func (v *Verifier) verifyDynamicCode(ctx context.Context, scan ScanEvent) (*VerificationResult, error) {
	if scan.UserID == "" || scan.Timestamp.IsZero() {
		return failure(AuthDynamicCode, "user identity and code timestamp are required"), nil
	}

	now := v.now()
	age := now.Sub(scan.Timestamp)
	if age < 0 {
		return failure(AuthDynamicCode, "code timestamp is in the future"), nil
	}
	if age > DynamicCodeMaxAge {
		return failure(AuthDynamicCode, "dynamic code is no longer fresh"), nil
	}

	orders, err := v.store.OrdersOwnedBy(ctx, scan.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for user %s: %w", scan.UserID, err)
	}
	if len(orders) == 0 {
		return failure(AuthDynamicCode, "no orders for this identity"), nil
	}

	// First match wins. Pickup requires store locality; a return may be
	// dropped at any affiliated location while its window is open.
	var selected *Order
	for i := range orders {
		o := &orders[i]
		if o.Status == StatusReadyForPickup && o.StoreID == scan.StoreID {
			selected = o
			break
		}
		if o.Status == StatusPickedUp && o.MaxTime != nil && o.MaxTime.After(now) {
			selected = o
			break
		}
	}
	if selected == nil {
		return failure(AuthDynamicCode,
			"no parcel ready for pickup at this store and no active return window"), nil
	}

	return v.finalize(ctx, selected.ID, selected.Status, AuthDynamicCode)
}

// finalize applies the lifecycle transition under the store's per-order
// lock. It runs at most once per scan event; the write is committed before
// a success result is returned. The locked order must still be in the
// status observed at selection: when two scans race on the same order, the
// loser's stale selection fails here instead of advancing the order a
// second step.
func (v *Verifier) finalize(ctx context.Context, orderID string, selectedStatus OrderStatus, method AuthMethod) (*VerificationResult, error) {
	var txType TransactionType
	updated, err := v.store.UpdateOrder(ctx, orderID, func(o *Order) error {
		if o.Status != selectedStatus {
			return ErrUnsupportedStatus
		}
		var advErr error
		txType, advErr = advance(o, v.now())
		return advErr
	})
	switch {
	case errors.Is(err, ErrReturnWindowExpired):
		return failure(method, "return window has expired"), nil
	case errors.Is(err, ErrUnsupportedStatus), errors.Is(err, ErrOrderNotFound):
		// The order changed between selection and finalization. A
		// consistency fault, not a user error.
		v.logger.Warn("order no longer in a scannable state",
			zap.String("order_id", orderID),
			zap.Error(err))
		return failure(method, "order is not in a scannable state"), nil
	case err != nil:
		return nil, fmt.Errorf("failed to finalize transaction for order %s: %w", orderID, err)
	}

	msg := "parcel picked up"
	if txType == TransactionReturn {
		msg = "return accepted, refund pending"
	}
	v.logger.Info("scan verified",
		zap.String("order_id", updated.ID),
		zap.String("transaction_type", string(txType)),
		zap.String("auth_method", string(method)))

	return &VerificationResult{
		Success:         true,
		TransactionType: txType,
		AuthMethod:      method,
		Message:         msg,
		Order:           updated,
	}, nil
}

func failure(method AuthMethod, msg string) *VerificationResult {
	return &VerificationResult{
		Success:    false,
		AuthMethod: method,
		Message:    msg,
	}
}
