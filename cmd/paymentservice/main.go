// cmd/paymentservice/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"orderpay-backend/pkg/container"
	"orderpay-backend/pkg/logger"
)

func main() {
	// ========================================
	// LOAD ENVIRONMENT VARIABLES
	// ========================================
	if err := godotenv.Load(); err != nil {
		log.Println("[PaymentService] No .env file found, using system environment variables")
	}

	env := getEnv("APP_ENV", "development")
	logger.Init(env)
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	Serve()
}

// getEnv lấy environment variable với fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func Serve() {
	// ========================================
	// 1. BUILD DI CONTAINER
	// ========================================
	c, err := container.NewPaymentContainer()
	if err != nil {
		log.Fatalf("[PaymentService] Failed to initialize container: %v", err)
	}
	defer c.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ========================================
	// 2. START OUTBOX PUBLISHER
	// ========================================
	go c.OutboxPublisher.Start(ctx)

	// ========================================
	// 3. START REQUEST CONSUMER
	// ========================================
	if err := c.RequestConsumer.Start(ctx); err != nil {
		log.Fatalf("[PaymentService] Failed to start request consumer: %v", err)
	}

	// ========================================
	// 4. START ASYNQ WORKER + SCHEDULER
	// ========================================
	srv := setupWorker(c)
	scheduler := setupScheduler(c)

	// ========================================
	// 5. START HTTP SERVER
	// ========================================
	router := SetupRouter(c)
	port := c.Config.App.Port
	httpSrv := &http.Server{
		Addr:           fmt.Sprintf(":%s", port),
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("[PaymentService] Listening on :%s (environment: %s)", port, c.Config.App.Environment)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[PaymentService] Failed to start server: %v", err)
		}
	}()

	// ========================================
	// 6. GRACEFUL SHUTDOWN
	// ========================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[PaymentService] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[PaymentService] Server forced to shutdown: %v", err)
	}

	c.RequestConsumer.Stop()
	scheduler.Shutdown()
	srv.Shutdown()
	cancel()

	log.Println("[PaymentService] Exited gracefully")
}
