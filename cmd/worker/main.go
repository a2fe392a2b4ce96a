package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/eventpay/internal/bootstrap"
	infraRedis "github.com/cassiomorais/eventpay/internal/infrastructure/redis"
	"github.com/cassiomorais/eventpay/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "eventpay-worker", "eventpay_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc, err := app.Wire()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to wire services")
	}

	workerCfg := app.Config.Worker
	producer := infraRedis.NewStreamProducer(app.Redis)

	notifications := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.NotificationStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	auditDLQ := infraRedis.NewStreamConsumer(
		app.Redis,
		svc.AuditDLQ.Stream(),
		workerCfg.AuditConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	for _, c := range []*infraRedis.StreamConsumer{notifications, auditDLQ} {
		if err := c.CreateGroup(ctx); err != nil {
			app.Logger.Error().Err(err).Str("stream", c.Stream()).Msg("Failed to create consumer group")
		}
	}

	relay := worker.NewOutboxRelay(svc.TxManager, svc.Outbox, producer, int(workerCfg.BatchSize), app.Logger, app.Metrics)
	notifier := worker.NewNotificationConsumer(notifications, svc.Notifications, producer, workerCfg.ReclaimAfter, app.Logger, app.Metrics)
	replayer := worker.NewAuditDeadLetterConsumer(auditDLQ, svc.Audit, workerCfg.ReclaimAfter, app.Logger, app.Metrics)
	sweeper := worker.NewExpirySweeper(
		svc.OrderService,
		func(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
			return infraRedis.RunExclusive(ctx, app.Redis, name, ttl, fn)
		},
		app.Config.Payment.LockTTL,
		workerCfg.SweepBatchSize,
		app.Logger,
	)
	housekeeper := worker.NewHousekeeper(svc.Idempotency, svc.Outbox, workerCfg.OutboxRetention, app.Logger)

	app.Logger.Info().
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return relay.Run(gCtx, workerCfg.OutboxPollInterval) })
	g.Go(func() error { return notifier.Run(gCtx) })
	g.Go(func() error { return replayer.Run(gCtx) })
	g.Go(func() error { return sweeper.Run(gCtx, workerCfg.ExpirySweepInterval) })
	g.Go(func() error { return housekeeper.Run(gCtx, workerCfg.HousekeepingEvery) })

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
