package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/d3vv3/kcal-ai-bot/ai"
	"github.com/d3vv3/kcal-ai-bot/config"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/observability"
)

// An Estimator turns a meal input into a nutrition estimate with a single
// call. ai.Client is the production implementation; tests substitute their
// own.
type Estimator interface {
	Estimate(context.Context, *models.MealInput) (*models.NutritionEstimate, error)
}

// JobProcessor is the default implementation of the dequeuer.Worker
// interface. Each DoWork call is one attempt: it asks the Estimator for a
// nutrition estimate and records the outcome. Retry scheduling happens via
// re-release into the queue, never by looping here.
type JobProcessor struct {
	// Estimator for the AI call. Shared between dequeuers; must be
	// threadsafe.
	Estimator Estimator

	// MaxAttempts bounds how many times a job may be started before it is
	// failed for good.
	MaxAttempts uint8

	// BackoffBase and BackoffCap control the re-release delay after a
	// retryable failure: base * 2^attempts, capped.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// NewJobProcessor creates a JobProcessor around the given Estimator with
// the default retry policy.
func NewJobProcessor(e Estimator) *JobProcessor {
	return &JobProcessor{
		Estimator:   e,
		MaxAttempts: config.DefaultMaxAttempts,
		BackoffBase: config.DefaultBackoffBase,
		BackoffCap:  config.DefaultBackoffCap,
	}
}

// DoWork runs one attempt for the acquired job. The returned error reports
// bookkeeping problems (the store unreachable); an AI failure is not an
// error here, it is an outcome, recorded via HandleAttemptResult.
func (jp *JobProcessor) DoWork(aj *models.AnalysisJob) error {
	log.Printf("processing job %s (attempt %d)", aj.ID.String(), aj.Attempts)
	var input models.MealInput
	if err := json.Unmarshal(aj.Input, &input); err != nil {
		// Enqueue validates the payload, so this means the row was
		// corrupted. Not retryable.
		return HandleAttemptResult(jp, aj, nil, &ai.Error{
			Kind:    ai.KindInvalidInput,
			Message: "stored input is not valid JSON: " + err.Error(),
		})
	}

	start := time.Now()
	estimate, err := jp.Estimator.Estimate(context.Background(), &input)
	elapsed := time.Since(start)
	go metrics.Time("estimate.latency", elapsed)
	observability.EstimateDuration.Observe(elapsed.Seconds())
	if err != nil {
		go metrics.Increment("estimate." + string(ai.Classify(err)))
		return HandleAttemptResult(jp, aj, nil, err)
	}
	go metrics.Increment("estimate.success")
	return HandleAttemptResult(jp, aj, estimate, nil)
}
