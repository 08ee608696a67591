// Dequeue analysis jobs and run them against the AI service.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/d3vv3/kcal-ai-bot/ai"
	"github.com/d3vv3/kcal-ai-bot/config"
	"github.com/d3vv3/kcal-ai-bot/dequeuer"
	"github.com/d3vv3/kcal-ai-bot/observability"
	"github.com/d3vv3/kcal-ai-bot/services"
	"github.com/d3vv3/kcal-ai-bot/setup"
	"github.com/joho/godotenv"
)

func checkError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	godotenv.Load()

	dbConns := config.GetIntDefault("PG_WORKER_POOL_SIZE", 20)

	err := setup.DB(setup.DefaultConnection, dbConns)
	checkError(err)

	go setup.MeasureActiveQueries(1 * time.Second)
	go setup.MeasureQueueDepth(5 * time.Second)
	go setup.MeasureInProgressJobs(1 * time.Second)

	metrics.Namespace = "kcal.worker"
	metrics.Start("worker")
	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	observability.StartMetricsServer(metricsAddr)

	apiKey := os.Getenv("AI_API_KEY")
	if apiKey == "" {
		log.Printf("No AI_API_KEY configured, the provider will reject our calls")
	}
	baseURL := config.GetURLOrBail("AI_API_URL")
	client := ai.NewClient(apiKey, baseURL.String())
	if model := os.Getenv("AI_MODEL"); model != "" {
		client.Model = model
	}
	client.Timeout = config.GetDuration("AI_CALL_TIMEOUT", ai.DefaultCallTimeout)

	jp := services.NewJobProcessor(client)
	jp.MaxAttempts = uint8(config.GetIntDefault("MAX_ATTEMPTS", config.DefaultMaxAttempts))
	jp.BackoffBase = config.GetDuration("BACKOFF_BASE", config.DefaultBackoffBase)
	jp.BackoffCap = config.GetDuration("BACKOFF_CAP", config.DefaultBackoffCap)

	// Unacknowledged deliveries come back after the visibility timeout.
	visibility := config.GetDuration("VISIBILITY_TIMEOUT", config.DefaultVisibilityTimeout)
	go services.WatchStuckJobs(jp, 1*time.Minute, visibility)

	retention := config.GetDuration("RETENTION_TTL", config.DefaultRetentionTTL)
	go services.WatchRetention(1*time.Hour, retention)

	concurrency := config.GetIntDefault("WORKER_CONCURRENCY", 4)
	pool, err := dequeuer.CreatePool(jp, concurrency)
	checkError(err)
	log.Printf("Started %d dequeuers", concurrency)

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigterm
	fmt.Printf("Caught signal %v, shutting down...\n", sig)
	if err := pool.Shutdown(); err != nil {
		log.Printf("Error shutting down pool: %s\n", err.Error())
	}
	fmt.Println("Pool shut down. Quitting.")
}
