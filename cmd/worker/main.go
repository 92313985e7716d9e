package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Worker drains the Redis update queue and applies single-record status
// edits to the workbook. Run it only with QUEUE_BACKEND=redis; with the
// in-memory queue the API process applies updates itself.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatal("worker requires QUEUE_BACKEND=redis; the in-memory queue is not visible across processes")
	}

	wb, err := store.Open(cfg.DataFile)
	if err != nil {
		log.Fatalf("record store open failed: %v", err)
	}

	redisClient := queue.NewRedisClient(cfg.RedisAddr)
	if !queue.Healthy(ctx, redisClient) {
		log.Printf("WARNING: redis at %s not reachable yet, consuming will retry", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient, "rollcall:updates")

	svc := attendance.NewService(attendance.NewRepository(wb), q, true)

	log.Println("worker started, waiting for status updates...")
	if err := svc.RunApplier(ctx); err != nil {
		log.Fatalf("applier failed: %v", err)
	}
	log.Println("worker stopped")
}
