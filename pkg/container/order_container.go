package container

import (
	"context"
	"fmt"
	"log"
	"time"

	"orderpay-backend/internal/config"
	"orderpay-backend/internal/domains/order/consumer"
	"orderpay-backend/internal/domains/order/handler"
	"orderpay-backend/internal/domains/order/repository"
	"orderpay-backend/internal/domains/order/service"
	infraCache "orderpay-backend/internal/infrastructure/cache"
	"orderpay-backend/internal/infrastructure/database"
	"orderpay-backend/internal/infrastructure/messaging"
	"orderpay-backend/internal/outbox"
	"orderpay-backend/internal/shared"
	"orderpay-backend/pkg/cache"
	"orderpay-backend/pkg/clock"
)

// ========================================
// ORDER SERVICE CONTAINER
// ========================================

// OrderContainer chứa TẤT CẢ dependencies của order service.
// Pattern: Service Locator + Dependency Injection.
type OrderContainer struct {
	// ========================================
	// INFRASTRUCTURE LAYER
	// ========================================
	Config *config.Config
	DB     *database.PostgresDB
	MQ     *messaging.Client
	Broker *messaging.Publisher
	Cache  cache.Cache
	Clock  clock.Clock

	// ========================================
	// OUTBOX
	// ========================================
	OutboxRepo      outbox.Repository
	OutboxWriter    *outbox.Writer
	OutboxPublisher *outbox.Publisher

	// ========================================
	// REPOSITORY LAYER
	// ========================================
	OrderRepo     repository.OrderRepoInterface
	RetryRepo     repository.RetryRepoInterface
	AuditRepo     repository.RequestAuditRepoInterface
	ProcessedRepo repository.ProcessedEventRepoInterface
	TxManager     repository.TransactionManager

	// ========================================
	// SERVICE LAYER
	// ========================================
	OrderService service.OrderService
	RetryService service.RetryService

	// ========================================
	// TRANSPORT LAYER
	// ========================================
	OrderHandler         *handler.OrderHandler
	ConfirmationConsumer *messaging.Consumer
}

// NewOrderContainer khởi tạo toàn bộ dependency graph của order service.
//
// Thứ tự initialization:
// 1. Config (không phụ thuộc gì)
// 2. Infrastructure (DB, RabbitMQ) - phụ thuộc Config
// 3. Outbox + Repositories - phụ thuộc Infrastructure
// 4. Services - phụ thuộc Repositories
// 5. Handlers/Consumers - phụ thuộc Services
func NewOrderContainer() (*OrderContainer, error) {
	log.Println("[OrderContainer] Initializing...")

	c := &OrderContainer{Clock: clock.NewSystem()}

	// ========================================
	// STEP 1: CONFIG
	// ========================================
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.Config = cfg
	log.Printf("[OrderContainer] Config loaded (environment: %s)", cfg.App.Environment)

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
	log.Println("[OrderContainer] Database connected")

	// ========================================
	// STEP 3: RABBITMQ
	// ========================================
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
	log.Println("[OrderContainer] RabbitMQ connected, topology declared")

	// ========================================
	// STEP 4: REDIS CACHE
	// ========================================
	// Redis failure không critical - order reads fallback sang DB
	redisCache := infraCache.NewRedisCache(cfg.Redis.Host, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisCache.Connect(ctx); err != nil {
		log.Printf("[OrderContainer] Redis connection failed (non-critical): %v", err)
	}
	c.Cache = redisCache

	// ========================================
	// STEP 5: OUTBOX + REPOSITORIES
	// ========================================
	pool := c.DB.Pool

	c.OutboxRepo = outbox.NewRepository(pool)
	c.OutboxWriter = outbox.NewWriter(c.OutboxRepo, c.Clock, shared.SourceOrderService)
	c.OutboxPublisher = outbox.NewPublisher(
		c.OutboxRepo,
		c.Broker,
		outbox.DefaultRoutes(cfg.RabbitMQ),
		cfg.Outbox,
		c.Clock,
	)

	c.OrderRepo = repository.NewOrderRepository(pool)
	c.RetryRepo = repository.NewRetryRepository(pool)
	c.AuditRepo = repository.NewRequestAuditRepository(pool)
	c.ProcessedRepo = repository.NewProcessedEventRepository(pool)
	c.TxManager = repository.NewPostgresTransactionManager(pool)

	// ========================================
	// STEP 6: SERVICES
	// ========================================
	c.OrderService = service.NewOrderService(
		c.OrderRepo,
		c.RetryRepo,
		c.AuditRepo,
		c.ProcessedRepo,
		c.TxManager,
		c.OutboxWriter,
		c.Cache,
		cfg.PaymentRetry,
		c.Clock,
	)
	c.RetryService = service.NewRetryService(
		c.OrderRepo,
		c.RetryRepo,
		c.AuditRepo,
		c.TxManager,
		c.OutboxWriter,
		cfg.PaymentRetry,
		c.Clock,
	)

	// ========================================
	// STEP 7: TRANSPORT
	// ========================================
	c.OrderHandler = handler.NewOrderHandler(c.OrderService, c.RetryService)
	c.ConfirmationConsumer = messaging.NewConsumer(
		c.MQ,
		cfg.RabbitMQ.PaymentConfirmationQueue,
		cfg.Consumer.Concurrency,
		cfg.Consumer.Prefetch,
		consumer.NewConfirmationConsumer(c.OrderService),
	)

	log.Println("[OrderContainer] Initialized successfully")
	return c, nil
}

// Cleanup dọn dẹp resources khi shutdown - gọi trong graceful shutdown
func (c *OrderContainer) Cleanup() {
	log.Println("[OrderContainer] Cleaning up...")

	if c.Broker != nil {
		if err := c.Broker.Close(); err != nil {
			log.Printf("[OrderContainer] Failed to close publisher: %v", err)
		}
	}
	if c.MQ != nil {
		if err := c.MQ.Close(); err != nil {
			log.Printf("[OrderContainer] Failed to close rabbitmq: %v", err)
		}
	}
	if rc, ok := c.Cache.(*infraCache.RedisCache); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Printf("[OrderContainer] Failed to close redis: %v", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}

	log.Println("[OrderContainer] Cleanup completed")
}
