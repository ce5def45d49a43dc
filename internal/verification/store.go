package verification

import (
	"context"
	"errors"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrCredentialNotFound = errors.New("guest credential not found")
)

// Store is the persistence contract the verifier and issuer depend on.
// Implementations must make ConsumeCredential an atomic lookup-and-delete
// (exactly one concurrent caller wins a given code) and UpdateOrder atomic
// per order ID. Updates to different orders must not block each other.
type Store interface {
	// OrdersOwnedBy returns the user's orders. The first-match selection
	// rule makes the ordering observable, so implementations must document
	// it.
	OrdersOwnedBy(ctx context.Context, userID string) ([]Order, error)

	OrderByID(ctx context.Context, orderID string) (*Order, error)

	// UpdateOrder applies mutate to the order under the per-order lock and
	// persists the result. If mutate returns an error nothing is written
	// and that error is returned unchanged.
	UpdateOrder(ctx context.Context, orderID string, mutate func(*Order) error) (*Order, error)

	// ConsumeCredential finds the credential by code and removes it in one
	// atomic step. The credential is gone even if the caller's subsequent
	// checks fail; a consumed code can never be presented again.
	ConsumeCredential(ctx context.Context, code string) (*GuestCredential, error)

	// UpsertCredential stores the credential, superseding any prior
	// credential for the same order atomically.
	UpsertCredential(ctx context.Context, cred GuestCredential) error
}
