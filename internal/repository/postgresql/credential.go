package postgresql

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository"
)

type CredentialRepo struct {
	db db.DB
}

func NewCredentialRepo(db db.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Consume removes the credential and returns it in a single statement, so
// exactly one of any number of concurrent presenters of the same code gets
// a row back; the rest see ErrObjectNotFound.
func (r *CredentialRepo) Consume(ctx context.Context, code string) (*repository.GuestCredential, error) {
	var cred repository.GuestCredential
	err := r.db.Get(ctx, &cred, `
        DELETE FROM guest_credentials
        WHERE code = $1
        RETURNING code, order_id, user_id, expires_at, created_at
    `, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// Upsert inserts the credential, replacing any live credential for the same
// order. The unique constraint on order_id makes the supersede atomic.
func (r *CredentialRepo) Upsert(ctx context.Context, cred *repository.GuestCredential) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO guest_credentials (code, order_id, user_id, expires_at, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (order_id) DO UPDATE
        SET code = EXCLUDED.code,
            user_id = EXCLUDED.user_id,
            expires_at = EXCLUDED.expires_at,
            created_at = EXCLUDED.created_at
    `, cred.Code, cred.OrderID, cred.UserID, cred.ExpiresAt, cred.CreatedAt)
	return err
}

// DeleteExpired is housekeeping only. Expiry is re-checked at validation
// time, so correctness never depends on this sweep running.
func (r *CredentialRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM guest_credentials WHERE expires_at < $1", now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
