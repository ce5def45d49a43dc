package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/cache"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/kafka"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/repository/postgresql"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/server"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/storage"
	"gitlab.ozon.dev/pupkingeorgij/parcelgate/internal/verification"
)

func main() {
	log := logger.New()
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.NewDb(ctx)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.GetPool().Close()

	orderRepo := postgresql.NewOrderRepo(database)
	credRepo := postgresql.NewCredentialRepo(database)
	outboxRepo := postgresql.NewOutboxTaskRepo()
	userRepo := postgresql.NewUserRepo(database)

	if username, password := os.Getenv("ADMIN_USER"), os.Getenv("ADMIN_PASSWORD"); username != "" && password != "" {
		if err := userRepo.CreateUser(ctx, username, password); err != nil {
			log.Warn("admin user seeding failed", zap.Error(err))
		}
	}

	orderCache := cache.NewOrderCache(orderRepo, log)
	if err := orderCache.LoadInitialData(ctx); err != nil {
		log.Warn("order cache warmup failed, starting cold", zap.Error(err))
	}

	store := storage.NewPostgresStore(database, orderRepo, credRepo, outboxRepo, orderCache)
	verifier := verification.NewVerifier(store, log)
	issuer := verification.NewIssuer(store, log)

	producer := newProducer(log)
	defer producer.Close()

	publisher := kafka.NewPublisher(database, outboxRepo, credRepo, producer, kafka.PublisherConfig{
		PollInterval:  2 * time.Second,
		BatchSize:     50,
		MaxAttempts:   5,
		SweepInterval: 10 * time.Minute,
	}, log)
	go publisher.Run(ctx)

	auditManager := server.NewAuditManager(2, 16, 500*time.Millisecond, producer, log)

	srv := server.New(store, verifier, issuer, userRepo, auditManager, log)

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "9000"
	}

	go func() {
		if err := srv.Run(ctx, port); err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	publisher.Shutdown()

	log.Info("stopped")
}

// newProducer picks the real Kafka writer when brokers are configured and
// falls back to console output for local runs.
func newProducer(log *zap.Logger) kafka.Producer {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		log.Info("KAFKA_BROKERS not set, audit events go to the console")
		return kafka.NewConsoleProducer(log)
	}
	return kafka.NewKafkaProducer(strings.Split(brokers, ","), log)
}
