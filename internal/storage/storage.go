package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/cache"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/verification"
)

const AuditTopic = "scan_audit_events"

type OrderRepository interface {
	Create(ctx context.Context, order *repository.Order) error
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	GetByIDTx(ctx context.Context, tx db.Tx, id string) (*repository.Order, error)
	UpdateTx(ctx context.Context, tx db.Tx, order *repository.Order) error
	GetByUserID(ctx context.Context, userID string) ([]*repository.Order, error)
	GetAllActiveOrders(ctx context.Context) ([]*repository.Order, error)
}

type CredentialRepository interface {
	Consume(ctx context.Context, code string) (*repository.GuestCredential, error)
	Upsert(ctx context.Context, cred *repository.GuestCredential) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type OutboxTaskRepository interface {
	CreateTx(ctx context.Context, tx db.Tx, task *repository.OutboxTask) error
	GetProcessableTasks(ctx context.Context, tx db.Tx, limit int) ([]*repository.OutboxTask, error)
	UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	UpdateTaskStatus(ctx context.Context, database db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
}

type UserRepository interface {
	CreateUser(ctx context.Context, username, password string) error
	ValidateUser(ctx context.Context, username, password string) (bool, error)
}

// PostgresStore implements verification.Store on top of the pgx repositories.
// The per-order atomicity of UpdateOrder comes from SELECT ... FOR UPDATE row
// locking, so updates to different orders proceed independently.
// OrdersOwnedBy ordering is created_at ASC with id as tie-breaker (see
// OrderRepo.GetByUserID).
type PostgresStore struct {
	db         db.DB
	orderRepo  OrderRepository
	credRepo   CredentialRepository
	outboxRepo OutboxTaskRepository
	cache      *cache.OrderCache
}

var _ verification.Store = (*PostgresStore)(nil)

func NewPostgresStore(database db.DB, orderRepo OrderRepository, credRepo CredentialRepository, outboxRepo OutboxTaskRepository, orderCache *cache.OrderCache) *PostgresStore {
	return &PostgresStore{
		db:         database,
		orderRepo:  orderRepo,
		credRepo:   credRepo,
		outboxRepo: outboxRepo,
		cache:      orderCache,
	}
}

func (s *PostgresStore) CreateOrder(ctx context.Context, order verification.Order) error {
	repoOrder := toRepoOrder(&order)
	if err := s.orderRepo.Create(ctx, repoOrder); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	s.cache.Set(repoOrder)
	return nil
}

func (s *PostgresStore) OrdersOwnedBy(ctx context.Context, userID string) ([]verification.Order, error) {
	repoOrders, err := s.orderRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for user: %w", err)
	}

	orders := make([]verification.Order, len(repoOrders))
	for i, repoOrder := range repoOrders {
		orders[i] = *fromRepoOrder(repoOrder)
	}
	return orders, nil
}

func (s *PostgresStore) OrderByID(ctx context.Context, orderID string) (*verification.Order, error) {
	if cached, found := s.cache.Get(orderID); found {
		return fromRepoOrder(cached), nil
	}

	repoOrder, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, verification.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	s.cache.Set(repoOrder)
	return fromRepoOrder(repoOrder), nil
}

// UpdateOrder runs mutate against the row-locked order inside one
// transaction and records an audit outbox task alongside the update. A
// mutate error rolls everything back and is returned unchanged.
func (s *PostgresStore) UpdateOrder(ctx context.Context, orderID string, mutate func(*verification.Order) error) (*verification.Order, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	repoOrder, err := s.orderRepo.GetByIDTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, verification.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	order := fromRepoOrder(repoOrder)
	oldStatus := order.Status
	if err := mutate(order); err != nil {
		return nil, err
	}

	if err := s.orderRepo.UpdateTx(ctx, tx, toRepoOrder(order)); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":   order.ID,
		"user_id":    order.UserID,
		"old_status": oldStatus,
		"new_status": order.Status,
		"changed_at": order.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	task := &repository.OutboxTask{Payload: payload, Topic: AuditTopic}
	if err := s.outboxRepo.CreateTx(ctx, tx, task); err != nil {
		return nil, fmt.Errorf("failed to record audit task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order update: %w", err)
	}

	s.cache.Set(toRepoOrder(order))
	return order, nil
}

func (s *PostgresStore) ConsumeCredential(ctx context.Context, code string) (*verification.GuestCredential, error) {
	cred, err := s.credRepo.Consume(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, verification.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to consume credential: %w", err)
	}
	return &verification.GuestCredential{
		Code:      cred.Code,
		OrderID:   cred.OrderID,
		UserID:    cred.UserID,
		ExpiresAt: cred.ExpiresAt,
	}, nil
}

func (s *PostgresStore) UpsertCredential(ctx context.Context, cred verification.GuestCredential) error {
	err := s.credRepo.Upsert(ctx, &repository.GuestCredential{
		Code:      cred.Code,
		OrderID:   cred.OrderID,
		UserID:    cred.UserID,
		ExpiresAt: cred.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

func fromRepoOrder(o *repository.Order) *verification.Order {
	return &verification.Order{
		ID:         o.ID,
		UserID:     o.UserID,
		StoreID:    o.StoreID,
		Status:     verification.OrderStatus(o.Status),
		MaxTime:    o.MaxTime,
		PickedUpAt: o.PickedUpAt,
		ReturnedAt: o.ReturnedAt,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toRepoOrder(o *verification.Order) *repository.Order {
	return &repository.Order{
		ID:         o.ID,
		UserID:     o.UserID,
		StoreID:    o.StoreID,
		Status:     string(o.Status),
		MaxTime:    o.MaxTime,
		PickedUpAt: o.PickedUpAt,
		ReturnedAt: o.ReturnedAt,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}
