package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/kafka"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/storage"
)

// AuditManager batches audit entries off the request path and ships the
// batches to Kafka through a small worker pool.
type AuditManager struct {
	workerCount int
	batchSize   int
	timeout     time.Duration

	producer kafka.Producer
	logger   *zap.Logger

	inputChan  chan AuditLogEntry
	batchChan  chan []AuditLogEntry
	shutdownCh chan struct{}
	once       sync.Once
	wg         sync.WaitGroup
}

func NewAuditManager(workerCount, batchSize int, timeout time.Duration, producer kafka.Producer, logger *zap.Logger) *AuditManager {
	return &AuditManager{
		workerCount: workerCount,
		batchSize:   batchSize,
		timeout:     timeout,
		producer:    producer,
		logger:      logger,
		inputChan:   make(chan AuditLogEntry, workerCount*batchSize*2),
		batchChan:   make(chan []AuditLogEntry, workerCount*2),
		shutdownCh:  make(chan struct{}),
	}
}

func (m *AuditManager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.runAggregator(ctx)

	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.runWorker(ctx, i)
	}

	go m.monitorShutdown(ctx)
}

func (m *AuditManager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		close(m.shutdownCh)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Info("audit manager shutdown completed")
		case <-ctx.Done():
			m.logger.Warn("audit manager shutdown interrupted")
		}
	})
}

func (m *AuditManager) monitorShutdown(ctx context.Context) {
	<-ctx.Done()
	m.Shutdown(context.Background())
}

func (m *AuditManager) LogEntry(ctx context.Context, entry AuditLogEntry) {
	select {
	case m.inputChan <- entry:
	case <-ctx.Done():
		m.emergencyLog(entry)
	}
}

func (m *AuditManager) runAggregator(ctx context.Context) {
	defer m.wg.Done()

	var (
		batch    []AuditLogEntry
		timer    *time.Timer
		timeoutC <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if len(batch) > 0 {
			m.dispatchBatch(batch)
		}
		close(m.batchChan)
	}()

	for {
		select {
		case entry, ok := <-m.inputChan:
			if !ok {
				return
			}

			batch = append(batch, entry)
			if len(batch) >= m.batchSize {
				m.dispatchBatch(batch)
				batch = nil
				timeoutC = nil
			} else if len(batch) == 1 {
				timer = time.NewTimer(m.timeout)
				timeoutC = timer.C
			}

		case <-timeoutC:
			m.dispatchBatch(batch)
			batch = nil
			timeoutC = nil

		case <-ctx.Done():
			return

		case <-m.shutdownCh:
			return
		}
	}
}

func (m *AuditManager) dispatchBatch(batch []AuditLogEntry) {
	batchCopy := make([]AuditLogEntry, len(batch))
	copy(batchCopy, batch)

	select {
	case m.batchChan <- batchCopy:
	default:
		// Workers are saturated, publish inline rather than dropping.
		m.publishBatch(context.Background(), batchCopy)
	}
}

func (m *AuditManager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()

	for {
		select {
		case batch, ok := <-m.batchChan:
			if !ok {
				return
			}
			m.publishBatch(ctx, batch)
		case <-ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case batch, ok := <-m.batchChan:
					if !ok {
						return
					}
					m.publishBatch(context.Background(), batch)
				default:
					return
				}
			}
		}
	}
}

func (m *AuditManager) publishBatch(ctx context.Context, batch []AuditLogEntry) {
	for _, entry := range batch {
		payload, err := json.Marshal(entry)
		if err != nil {
			m.logger.Error("failed to marshal audit entry", zap.Error(err))
			continue
		}
		if err := m.producer.SendMessage(ctx, storage.AuditTopic, []byte(entry.ID.String()), payload); err != nil {
			m.logger.Error("failed to publish audit entry",
				zap.String("entry_id", entry.ID.String()),
				zap.Error(err))
		}
	}
}

func (m *AuditManager) emergencyLog(entry AuditLogEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("failed to marshal emergency audit entry", zap.Error(err))
		return
	}
	m.logger.Warn("audit entry logged inline", zap.ByteString("entry", payload))
}
