package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/storage"
)

type PublisherConfig struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	SweepInterval time.Duration
}

// Publisher drains the transactional outbox into Kafka and runs the expired
// guest-credential sweep. The sweep is housekeeping: validation re-checks
// expiry regardless of whether stale rows still exist.
type Publisher struct {
	db             db.DB
	taskRepo       storage.OutboxTaskRepository
	credRepo       storage.CredentialRepository
	producer       Producer
	config         PublisherConfig
	logger         *zap.Logger
	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func NewPublisher(database db.DB, taskRepo storage.OutboxTaskRepository, credRepo storage.CredentialRepository, producer Producer, config PublisherConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		db:             database,
		taskRepo:       taskRepo,
		credRepo:       credRepo,
		producer:       producer,
		config:         config,
		logger:         logger,
		shutdownSignal: make(chan struct{}),
	}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("starting outbox publisher")
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	sweeper := time.NewTicker(p.config.SweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.logger.Error("outbox publisher failed to process batch", zap.Error(err))
			}
		case <-sweeper.C:
			p.sweepExpiredCredentials(ctx)
		case <-p.shutdownSignal:
			p.logger.Info("outbox publisher received shutdown signal")
			return
		case <-ctx.Done():
			p.logger.Info("outbox publisher context cancelled")
			p.Shutdown()
			return
		}
	}
}

func (p *Publisher) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.shutdownSignal)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.logger.Info("outbox publisher shutdown complete")
		case <-shutdownCtx.Done():
			p.logger.Warn("outbox publisher shutdown timed out")
		}

		if err := p.producer.Close(); err != nil {
			p.logger.Error("failed to close kafka producer", zap.Error(err))
		}
	})
}

func (p *Publisher) sweepExpiredCredentials(ctx context.Context) {
	swept, err := p.credRepo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Error("expired credential sweep failed", zap.Error(err))
		return
	}
	if swept > 0 {
		metrics.ExpiredCredentialsSweptTotal.Add(float64(swept))
		p.logger.Debug("swept expired guest credentials", zap.Int64("count", swept))
	}
}

func (p *Publisher) processBatch(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for fetching tasks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	tasks, err := p.taskRepo.GetProcessableTasks(ctx, tx, p.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get processable tasks: %w", err)
	}
	if len(tasks) == 0 {
		return tx.Commit(ctx)
	}

	for _, task := range tasks {
		err := p.taskRepo.UpdateTaskStatusTx(ctx, tx, task.ID, repository.TaskStatusProcessing, task.Attempts, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to mark task %s as processing: %w", task.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit processing marks: %w", err)
	}

	for _, task := range tasks {
		select {
		case <-p.shutdownSignal:
			return errors.New("publisher shutdown during batch processing")
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.processSingleTask(ctx, task); err != nil {
			p.logger.Error("failed to process outbox task",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

func (p *Publisher) processSingleTask(ctx context.Context, task *repository.OutboxTask) error {
	err := p.producer.SendMessage(ctx, task.Topic, []byte(task.ID.String()), task.Payload)
	if err != nil {
		newAttempts := task.Attempts + 1
		errMsg := err.Error()
		if newAttempts >= p.config.MaxAttempts {
			p.logger.Warn("outbox task reached max attempts",
				zap.String("task_id", task.ID.String()),
				zap.Int("attempts", newAttempts))
		}

		updateErr := p.taskRepo.UpdateTaskStatus(ctx, p.db, task.ID, repository.TaskStatusFailed, newAttempts, &errMsg, nil)
		if updateErr != nil {
			return fmt.Errorf("failed to mark task failed after send error %v: %w", err, updateErr)
		}
		return err
	}

	now := time.Now().UTC()
	if updateErr := p.taskRepo.UpdateTaskStatus(ctx, p.db, task.ID, repository.TaskStatusDone, task.Attempts, nil, &now); updateErr != nil {
		return fmt.Errorf("failed to mark task done: %w", updateErr)
	}
	return nil
}
