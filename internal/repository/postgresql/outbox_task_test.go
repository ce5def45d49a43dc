package postgresql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	mock_database "gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/db/mocks"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository/postgresql"
	"go.uber.org/mock/gomock"
)

func TestOutboxTaskRepo_CreateTx(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns an id and inserts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOutboxTaskRepo()

		task := &repository.OutboxTask{
			Payload: []byte(`{"order_id":"ORD-1001"}`),
			Topic:   "scan_audit_events",
		}

		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(repository.TaskStatusCreated), gomock.Eq(task.Payload), gomock.Eq(task.Topic), gomock.Any(), gomock.Any()).
			Return(nil, nil)

		err := repo.CreateTx(ctx, mockTx, task)
		assert.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, task.ID)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOutboxTaskRepo()

		expectedErr := errors.New("database error")
		mockTx.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, expectedErr)

		err := repo.CreateTx(ctx, mockTx, &repository.OutboxTask{Topic: "scan_audit_events"})
		assert.ErrorIs(t, err, expectedErr)
	})
}

func TestOutboxTaskRepo_GetProcessableTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("claims rows inside the transaction", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOutboxTaskRepo()

		expected := []*repository.OutboxTask{
			{ID: uuid.New(), Status: repository.TaskStatusCreated, Topic: "scan_audit_events"},
		}

		mockTx.EXPECT().Select(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(10)).
			DoAndReturn(func(_ context.Context, dest *[]*repository.OutboxTask, query string, _ ...interface{}) error {
				assert.Contains(t, query, "FOR UPDATE SKIP LOCKED")
				*dest = expected
				return nil
			})

		tasks, err := repo.GetProcessableTasks(ctx, mockTx, 10)
		assert.NoError(t, err)
		assert.Equal(t, expected, tasks)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTx := mock_database.NewMockTx(ctrl)
		repo := postgresql.NewOutboxTaskRepo()

		expectedErr := errors.New("database error")
		mockTx.EXPECT().Select(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(expectedErr)

		tasks, err := repo.GetProcessableTasks(ctx, mockTx, 10)
		assert.ErrorIs(t, err, expectedErr)
		assert.Nil(t, tasks)
	})
}
