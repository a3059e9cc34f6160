package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"orderpay-backend/internal/domains/order/job"
	"orderpay-backend/internal/infrastructure/queue"
	outboxJob "orderpay-backend/internal/outbox/job"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/container"
)

// asynqServer wraps asynq.Server with graceful shutdown
type asynqServer struct {
	*asynq.Server
}

// setupWorker tạo asynq server và đăng ký task handlers của order service
func setupWorker(c *container.OrderContainer) *asynqServer {
	mux := asynq.NewServeMux()
	mux.Handle(shared.TypePaymentRetryScan, job.NewPaymentRetryScanHandler(c.RetryService))
	mux.Handle(shared.TypeProcessedEventsCleanup, job.NewProcessedEventsCleanupHandler(c.ProcessedRepo, c.Clock))
	mux.Handle(shared.TypeOutboxCleanup, outboxJob.NewOutboxCleanupHandler(c.OutboxPublisher))
	mux.Handle(shared.TypeOutboxReportStats, outboxJob.NewOutboxStatsHandler(c.OutboxPublisher))

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     c.Config.Redis.Host,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		},
		asynq.Config{
			Queues: map[string]int{
				shared.QueueRetry:   10,
				shared.QueueDefault: 5,
			},
			Concurrency: 10,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq] Task failed - Type: %s, Error: %v", task.Type(), err)
			}),
		},
	)

	go func() {
		log.Println("[Worker] Starting...")
		if err := srv.Run(mux); err != nil {
			log.Fatalf("[Worker] Failed: %v", err)
		}
	}()

	return &asynqServer{Server: srv}
}

// Shutdown dừng worker, chờ in-flight tasks xong
func (s *asynqServer) Shutdown() {
	log.Println("[Worker] Shutting down...")
	s.Server.Shutdown()
	log.Println("[Worker] Stopped")
}

// asynqScheduler wraps queue.Scheduler
type asynqScheduler struct {
	*queue.Scheduler
}

// setupScheduler đăng ký periodic jobs và start scheduler
func setupScheduler(c *container.OrderContainer) *asynqScheduler {
	scheduler := queue.NewScheduler(c.Config.Redis.Host, c.Config.Redis.Password, c.Config.Redis.DB)

	if err := scheduler.RegisterOrderJobs(); err != nil {
		log.Fatalf("[Scheduler] Failed to register: %v", err)
	}

	go func() {
		log.Println("[Scheduler] Starting...")
		if err := scheduler.Start(); err != nil {
			log.Fatalf("[Scheduler] Failed: %v", err)
		}
	}()

	return &asynqScheduler{Scheduler: scheduler}
}

// Shutdown dừng scheduler
func (s *asynqScheduler) Shutdown() {
	log.Println("[Scheduler] Shutting down...")
	s.Scheduler.Shutdown()
	log.Println("[Scheduler] Stopped")
}
