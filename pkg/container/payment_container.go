package container

import (
	"context"
	"fmt"
	"log"
	"time"

	"orderpay-backend/internal/config"
	"orderpay-backend/internal/domains/payment/consumer"
	"orderpay-backend/internal/domains/payment/gateway"
	"orderpay-backend/internal/domains/payment/handler"
	"orderpay-backend/internal/domains/payment/repository"
	"orderpay-backend/internal/domains/payment/service"
	"orderpay-backend/internal/infrastructure/database"
	"orderpay-backend/internal/infrastructure/messaging"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/clock"
)

// ========================================
// PAYMENT SERVICE CONTAINER
// ========================================

// PaymentContainer chứa TẤT CẢ dependencies của payment service.
// Cùng skeleton với OrderContainer - hai service deploy độc lập,
// mỗi service một database và một container riêng.
type PaymentContainer struct {
	// ========================================
	// INFRASTRUCTURE LAYER
	// ========================================
	Config  *config.Config
	DB      *database.PostgresDB
	MQ      *messaging.Client
	Broker  *messaging.Publisher
	Clock   clock.Clock
	Gateway gateway.Gateway

	// ========================================
	// OUTBOX
	// ========================================
	OutboxRepo      outbox.Repository
	OutboxWriter    *outbox.Writer
	OutboxPublisher *outbox.Publisher

	// ========================================
	// REPOSITORY LAYER
	// ========================================
	PaymentRepo repository.PaymentRepoInterface
	TxManager   repository.TransactionManager

	// ========================================
	// SERVICE LAYER
	// ========================================
	PaymentService service.PaymentService

	// ========================================
	// TRANSPORT LAYER
	// ========================================
	PaymentHandler  *handler.PaymentHandler
	RequestConsumer *messaging.Consumer
}

// NewPaymentContainer khởi tạo toàn bộ dependency graph của payment service
func NewPaymentContainer() (*PaymentContainer, error) {
	log.Println("[PaymentContainer] Initializing...")

	c := &PaymentContainer{Clock: clock.NewSystem()}

	// ========================================
	// STEP 1: CONFIG
	// ========================================
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.Config = cfg
	log.Printf("[PaymentContainer] Config loaded (environment: %s)", cfg.App.Environment)

	// ========================================
	// STEP 2: DATABASE
	// ========================================
	dbConfig, err := config.LoadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}

	db := database.NewPostgresDB(dbConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	c.DB = db
	log.Println("[PaymentContainer] Database connected")

	// ========================================
	// STEP 3: RABBITMQ
	// ========================================
	// Cả hai service declare cùng topology - idempotent, service nào
	// lên trước declare trước
	mq, err := messaging.NewClient(cfg.RabbitMQ)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	if err := mq.DeclareTopology(ctx); err != nil {
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}
	c.MQ = mq

	broker, err := messaging.NewPublisher(mq)
	if err != nil {
		return nil, fmt.Errorf("failed to open publisher channel: %w", err)
	}
	c.Broker = broker
	log.Println("[PaymentContainer] RabbitMQ connected, topology declared")

	// ========================================
	// STEP 4: GATEWAY + OUTBOX + REPOSITORIES
	// ========================================
	c.Gateway = gateway.NewSimulator(c.Clock)

	pool := c.DB.Pool

	c.OutboxRepo = outbox.NewRepository(pool)
	c.OutboxWriter = outbox.NewWriter(c.OutboxRepo, c.Clock, shared.SourcePaymentService)
	c.OutboxPublisher = outbox.NewPublisher(
		c.OutboxRepo,
		c.Broker,
		outbox.DefaultRoutes(cfg.RabbitMQ),
		cfg.Outbox,
		c.Clock,
	)

	c.PaymentRepo = repository.NewPaymentRepository(pool)
	c.TxManager = repository.NewPostgresTransactionManager(pool)

	// ========================================
	// STEP 5: SERVICES
	// ========================================
	c.PaymentService = service.NewPaymentService(
		c.PaymentRepo,
		c.TxManager,
		c.Gateway,
		c.OutboxWriter,
		c.Clock,
	)

	// ========================================
	// STEP 6: TRANSPORT
	// ========================================
	c.PaymentHandler = handler.NewPaymentHandler(c.PaymentService)
	c.RequestConsumer = messaging.NewConsumer(
		c.MQ,
		cfg.RabbitMQ.PaymentRequestQueue,
		cfg.Consumer.Concurrency,
		cfg.Consumer.Prefetch,
		consumer.NewRequestConsumer(c.PaymentService),
	)

	log.Println("[PaymentContainer] Initialized successfully")
	return c, nil
}

// Cleanup dọn dẹp resources khi shutdown
func (c *PaymentContainer) Cleanup() {
	log.Println("[PaymentContainer] Cleaning up...")

	if c.Broker != nil {
		if err := c.Broker.Close(); err != nil {
			log.Printf("[PaymentContainer] Failed to close publisher: %v", err)
		}
	}
	if c.MQ != nil {
		if err := c.MQ.Close(); err != nil {
			log.Printf("[PaymentContainer] Failed to close rabbitmq: %v", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}

	log.Println("[PaymentContainer] Cleanup completed")
}
