package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/logger"
)

type Scheduler struct {
	scheduler *asynq.Scheduler
}

func NewScheduler(redisAddress, redisPassword string, redisDB int) *Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddress, Password: redisPassword, DB: redisDB},
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
		},
	)

	return &Scheduler{
		scheduler: scheduler,
	}
}

// RegisterOrderJobs đăng ký periodic jobs của order service:
// retry scan + outbox maintenance
func (s *Scheduler) RegisterOrderJobs() error {
	if err := s.registerPaymentRetryScanJob(); err != nil {
		return err
	}
	if err := s.registerProcessedEventsCleanupJob(); err != nil {
		return err
	}
	return s.RegisterOutboxJobs()
}

// RegisterOutboxJobs đăng ký outbox maintenance - cả hai service dùng
func (s *Scheduler) RegisterOutboxJobs() error {
	if err := s.registerOutboxCleanupJob(); err != nil {
		return err
	}
	return s.registerOutboxStatsJob()
}

// ================================================
// JOB 1: Payment Retry Scan (Every 60 seconds)
// ================================================
// Scan nhanh vì next_retry_at đã precompute - mỗi pass chỉ là một
// index lookup. Backoff thật sự nằm trong next_retry_at, không phải
// tần suất scan.
func (s *Scheduler) registerPaymentRetryScanJob() error {
	payload, err := json.Marshal(shared.PaymentRetryScanPayload{})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypePaymentRetryScan, payload)

	_, err = s.scheduler.Register(
		"@every 60s",
		task,
		asynq.Queue(shared.QueueRetry),
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register PaymentRetryScan job", err)
		return err
	}

	logger.Info("Registered PaymentRetryScan: every 60s", map[string]interface{}{})
	return nil
}

// ================================================
// JOB 2: Outbox Cleanup (Hourly)
// ================================================
// Xoá rows processed quá retention + poison rows quá hạn giữ.
// Hourly là đủ - outbox table nhỏ khi drain loop khoẻ mạnh.
func (s *Scheduler) registerOutboxCleanupJob() error {
	payload, err := json.Marshal(shared.OutboxCleanupPayload{})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeOutboxCleanup, payload)

	_, err = s.scheduler.Register(
		"0 * * * *", // Hourly at minute 0
		task,
		asynq.Queue(shared.QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register OutboxCleanup job", err)
		return err
	}

	logger.Info("Registered OutboxCleanup: hourly", map[string]interface{}{})
	return nil
}

// ================================================
// JOB 3: Outbox Stats (Every 5 minutes)
// ================================================
// Log counters {total, unprocessed, failed, processed} - đủ cho
// operator grep khi chưa có metrics pipeline.
func (s *Scheduler) registerOutboxStatsJob() error {
	payload, err := json.Marshal(shared.OutboxReportStatsPayload{})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeOutboxReportStats, payload)

	_, err = s.scheduler.Register(
		"*/5 * * * *", // Every 5 minutes
		task,
		asynq.Queue(shared.QueueDefault),
		asynq.MaxRetry(1),
		asynq.Timeout(time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register OutboxStats job", err)
		return err
	}

	logger.Info("Registered OutboxStats: every 5 minutes", map[string]interface{}{})
	return nil
}

// ================================================
// JOB 4: Processed Events Cleanup (Daily)
// ================================================
// Dọn dedup rows quá retention bên order service. Offset sang phút 30
// để không chạy trùng giờ với outbox cleanup.
func (s *Scheduler) registerProcessedEventsCleanupJob() error {
	payload, err := json.Marshal(shared.ProcessedEventsCleanupPayload{})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeProcessedEventsCleanup, payload)

	_, err = s.scheduler.Register(
		"30 2 * * *", // Daily at 02:30
		task,
		asynq.Queue(shared.QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register ProcessedEventsCleanup job", err)
		return err
	}

	logger.Info("Registered ProcessedEventsCleanup: daily at 02:30", map[string]interface{}{})
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Run()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
