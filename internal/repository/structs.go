package repository

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrObjectNotFound = errors.New("not found")

type Order struct {
	ID         string     `db:"id"`
	UserID     string     `db:"user_id"`
	StoreID    string     `db:"store_id"`
	Status     string     `db:"status"`
	MaxTime    *time.Time `db:"max_time"`
	PickedUpAt *time.Time `db:"picked_up_at"`
	ReturnedAt *time.Time `db:"returned_at"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

type GuestCredential struct {
	Code      string    `db:"code"`
	OrderID   string    `db:"order_id"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

// OutboxTask is a pending audit event, written in the same transaction as
// the order mutation it describes and shipped to Kafka by the publisher.
type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}
