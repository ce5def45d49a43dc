package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// Issuer mints single-use guest codes. Eligibility of the order (ownership,
// picked_up status) is the caller's responsibility; the issuer only enforces
// its own invariants: a fresh code, a fixed validity window, and at most one
// live credential per order.
type Issuer struct {
	store    Store
	logger   *zap.Logger
	now      func() time.Time
	generate func() (string, error)
}

type IssuedCredential struct {
	Code            string    `json:"code"`
	ExpiresAt       time.Time `json:"expires_at"`
	ValidityMinutes int       `json:"validity_minutes"`
}

func NewIssuer(store Store, logger *zap.Logger) *Issuer {
	return &Issuer{
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		generate: randomCode,
	}
}

// Issue creates and persists a guest credential for the order, superseding
// any prior one. On error the code must not be treated as issued.
func (i *Issuer) Issue(ctx context.Context, userID, orderID string) (*IssuedCredential, error) {
	code, err := i.generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate guest code: %w", err)
	}

	expiresAt := i.now().Add(GuestCodeValidity)
	cred := GuestCredential{
		Code:      code,
		OrderID:   orderID,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := i.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist guest credential for order %s: %w", orderID, err)
	}

	i.logger.Info("guest code issued",
		zap.String("order_id", orderID),
		zap.String("user_id", userID),
		zap.Time("expires_at", expiresAt))

	return &IssuedCredential{
		Code:            code,
		ExpiresAt:       expiresAt,
		ValidityMinutes: int(GuestCodeValidity / time.Minute),
	}, nil
}

var codeSpace = big.NewInt(1_000_000)

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", GuestCodeLength, n), nil
}
