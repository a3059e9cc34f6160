package shared

// =====================================================
// ASYNQ TASK TYPES & QUEUES
// =====================================================
const (
	TypePaymentRetryScan       = "payment:retry_scan"
	TypeOutboxCleanup          = "outbox:cleanup"
	TypeOutboxReportStats      = "outbox:report_stats"
	TypeProcessedEventsCleanup = "order:processed_events_cleanup"

	QueueDefault = "default"
	QueueRetry   = "retry"
)

// PaymentRetryScanPayload - payload cho scheduled retry scan
type PaymentRetryScanPayload struct {
	Limit int `json:"limit,omitempty"`
}

// OutboxCleanupPayload - payload cho outbox cleanup job
type OutboxCleanupPayload struct{}

// OutboxReportStatsPayload - payload cho stats job
type OutboxReportStatsPayload struct{}

// ProcessedEventsCleanupPayload - payload cho dedup-row retention job
type ProcessedEventsCleanupPayload struct{}

// Source names đi vào header `source` của mọi outbound message
const (
	SourceOrderService   = "order-service"
	SourcePaymentService = "payment-service"
)
