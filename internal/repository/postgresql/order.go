package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository"
)

type OrderRepo struct {
	db db.DB
}

func NewOrderRepo(db db.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) Create(ctx context.Context, order *repository.Order) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO orders (
            id, user_id, store_id, status, max_time, picked_up_at, returned_at, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, order.ID, order.UserID, order.StoreID, order.Status, order.MaxTime, order.PickedUpAt, order.ReturnedAt, order.CreatedAt, order.UpdatedAt)
	return err
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*repository.Order, error) {
	var order repository.Order
	err := r.db.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByIDTx locks the row for the duration of the transaction. This is the
// per-order mutual exclusion backing UpdateOrder.
func (r *OrderRepo) GetByIDTx(ctx context.Context, tx db.Tx, id string) (*repository.Order, error) {
	var order repository.Order
	err := tx.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepo) UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error {
	_, err := tx.Exec(ctx, `
        UPDATE orders
        SET
            status = $1,
            max_time = $2,
            picked_up_at = $3,
            returned_at = $4,
            updated_at = $5
        WHERE id = $6
    `, order.Status, order.MaxTime, order.PickedUpAt, order.ReturnedAt, order.UpdatedAt, order.ID)
	return err
}

// GetByUserID returns the user's orders oldest first. The verifier's
// first-match rule makes this ordering part of the observable behavior, so
// it is fixed: created_at ascending, id as the tie-breaker.
func (r *OrderRepo) GetByUserID(ctx context.Context, userID string) ([]*repository.Order, error) {
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, `
        SELECT * FROM orders
        WHERE user_id = $1
        ORDER BY created_at ASC, id ASC
    `, userID)
	return orders, err
}

func (r *OrderRepo) GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error) {
	var orders []*repository.Order
	err := r.db.Select(ctx, &orders, `
        SELECT * FROM orders
        WHERE status = 'ready_for_pickup' OR status = 'picked_up'
        ORDER BY created_at ASC, id ASC
    `)
	return orders, err
}
