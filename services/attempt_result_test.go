package services_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/d3vv3/kcal-ai-bot/ai"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/archived_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/db"
	"github.com/d3vv3/kcal-ai-bot/models/meals"
	"github.com/d3vv3/kcal-ai-bot/services"
	"github.com/d3vv3/kcal-ai-bot/test"
	"github.com/d3vv3/kcal-ai-bot/test/factory"
)

// stubEstimator plays back a script of errors, one per call; a nil entry is
// a success. Calls past the end of the script return defaultErr, or succeed
// when it's nil.
type stubEstimator struct {
	mu         sync.Mutex
	calls      int
	script     []error
	defaultErr error
	estimate   *models.NutritionEstimate
}

func (s *stubEstimator) Estimate(ctx context.Context, input *models.MealInput) (*models.NutritionEstimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.defaultErr
	if s.calls < len(s.script) {
		err = s.script[s.calls]
	}
	s.calls++
	if err != nil {
		return nil, err
	}
	return s.estimate, nil
}

// acquireWithin polls until a job becomes ready, since released jobs carry
// a backoff delay.
func acquireWithin(t *testing.T, d time.Duration) *models.AnalysisJob {
	t.Helper()
	deadline := time.Now().Add(d)
	for {
		aj, err := analysis_jobs.Acquire()
		if err == nil {
			return aj
		}
		if err != sql.ErrNoRows {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("no job became ready within %s", d)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestProcessor(est *stubEstimator) *services.JobProcessor {
	jp := services.NewJobProcessor(est)
	jp.BackoffBase = time.Millisecond
	jp.BackoffCap = 20 * time.Millisecond
	return jp
}

func TestSuccessArchivesJobAndLogsMeal(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.InputData(factory.SampleInput))
	est := &stubEstimator{estimate: factory.SampleEstimate}
	jp := newTestProcessor(est)

	test.AssertNotError(t, jp.DoWork(aj), "DoWork")

	_, err := analysis_jobs.Get(aj.ID)
	test.AssertEquals(t, err, analysis_jobs.ErrNotFound)

	archived, err := archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding archived job")
	test.AssertEquals(t, archived.Status, models.StatusSucceeded)
	test.AssertEquals(t, archived.Attempts, uint8(1))
	test.AssertEquals(t, archived.UserID, factory.UserId)

	meal, err := meals.Get(aj.ID)
	test.AssertNotError(t, err, "finding meal")
	test.AssertEquals(t, meal.Name, factory.SampleEstimate.Name)
	test.AssertEquals(t, meal.Calories, float64(330))
	test.AssertEquals(t, meal.UserID, factory.UserId)
}

func TestRateLimitedThenSucceeds(t *testing.T) {
	defer test.TearDown(t)
	factory.CreateAnalysisJob(t, factory.InputData(factory.SampleInput))
	rateLimited := &ai.Error{Kind: ai.KindRateLimited, Message: "Rate limit exceeded"}
	est := &stubEstimator{
		script:   []error{rateLimited, rateLimited, nil},
		estimate: factory.SampleEstimate,
	}
	jp := newTestProcessor(est)

	var aj *models.AnalysisJob
	for i := 0; i < 3; i++ {
		aj = acquireWithin(t, 2*time.Second)
		test.AssertNotError(t, jp.DoWork(aj), "DoWork")
	}

	test.AssertEquals(t, est.calls, 3)
	archived, err := archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding archived job")
	test.AssertEquals(t, archived.Status, models.StatusSucceeded)
	test.AssertEquals(t, archived.Attempts, uint8(3))
}

func TestTransientFailureExhaustsAttempts(t *testing.T) {
	defer test.TearDown(t)
	factory.CreateAnalysisJob(t, factory.InputData(factory.SampleInput))
	est := &stubEstimator{
		defaultErr: &ai.Error{Kind: ai.KindTransient, Message: "connection reset"},
	}
	jp := newTestProcessor(est)

	var aj *models.AnalysisJob
	for i := 0; i < int(jp.MaxAttempts); i++ {
		aj = acquireWithin(t, 2*time.Second)
		test.AssertNotError(t, jp.DoWork(aj), "DoWork")
	}

	_, err := analysis_jobs.Get(aj.ID)
	test.AssertEquals(t, err, analysis_jobs.ErrNotFound)

	archived, err := archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding archived job")
	test.AssertEquals(t, archived.Status, models.StatusFailed)
	test.AssertEquals(t, archived.Attempts, jp.MaxAttempts)
	test.AssertContains(t, archived.Failure, "retries exhausted after 3 attempts")
	test.AssertContains(t, archived.Failure, "connection reset")

	// No meal row for a failed job.
	_, err = meals.Get(aj.ID)
	test.AssertEquals(t, err, meals.ErrNotFound)
}

func TestInvalidInputFailsImmediately(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.InputData(factory.SampleInput))
	est := &stubEstimator{
		defaultErr: &ai.Error{Kind: ai.KindInvalidInput, Message: "Unsupported image type"},
	}
	jp := newTestProcessor(est)

	test.AssertNotError(t, jp.DoWork(aj), "DoWork")
	test.AssertEquals(t, est.calls, 1)

	archived, err := archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding archived job")
	test.AssertEquals(t, archived.Status, models.StatusFailed)
	test.AssertEquals(t, archived.Attempts, uint8(1))
	test.AssertContains(t, archived.Failure, "Unsupported image type")
}

func TestCorruptInputNeverCallsEstimator(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, []byte(`"not a meal input"`))
	est := &stubEstimator{estimate: factory.SampleEstimate}
	jp := newTestProcessor(est)

	test.AssertNotError(t, jp.DoWork(aj), "DoWork")
	test.AssertEquals(t, est.calls, 0)

	archived, err := archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding archived job")
	test.AssertEquals(t, archived.Status, models.StatusFailed)
}

func TestStaleTerminalWriteIsDiscarded(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.InputData(factory.SampleInput))
	est := &stubEstimator{estimate: factory.SampleEstimate}
	jp := newTestProcessor(est)
	test.AssertNotError(t, jp.DoWork(aj), "DoWork")

	// A worker that held a redelivered copy of the same job reports a
	// failure after the success landed. Both the retry release and the
	// failed-archive paths must discard it without an error.
	stale := &ai.Error{Kind: ai.KindTransient, Message: "late failure"}
	test.AssertNotError(t, services.HandleAttemptResult(jp, aj, nil, stale), "stale retryable write")

	exhausted := newTestProcessor(est)
	exhausted.MaxAttempts = 1
	test.AssertNotError(t, services.HandleAttemptResult(exhausted, aj, nil, stale), "stale terminal write")

	archived, err := archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding archived job")
	test.AssertEquals(t, archived.Status, models.StatusSucceeded)
}

func TestReleaseStuckJobsRequeues(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.InputData(factory.SampleInput))
	_, err := db.Conn.Exec("UPDATE analysis_jobs SET updated_at = now() - interval '1 hour'")
	test.AssertNotError(t, err, "backdating job")

	est := &stubEstimator{estimate: factory.SampleEstimate}
	jp := newTestProcessor(est)
	test.AssertNotError(t, services.ReleaseStuckJobs(jp, 30*time.Minute), "ReleaseStuckJobs")

	requeued, err := analysis_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding job")
	test.AssertEquals(t, requeued.Status, models.StatusQueued)
	test.AssertEquals(t, requeued.Attempts, uint8(1))
}

func TestReleaseStuckJobsFailsExhaustedJob(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.InputData(factory.SampleInput))
	_, err := db.Conn.Exec("UPDATE analysis_jobs SET updated_at = now() - interval '1 hour'")
	test.AssertNotError(t, err, "backdating job")

	est := &stubEstimator{estimate: factory.SampleEstimate}
	jp := newTestProcessor(est)
	jp.MaxAttempts = 1
	test.AssertNotError(t, services.ReleaseStuckJobs(jp, 30*time.Minute), "ReleaseStuckJobs")

	archived, err := archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "finding archived job")
	test.AssertEquals(t, archived.Status, models.StatusFailed)
	test.AssertContains(t, archived.Failure, "worker did not acknowledge the delivery")
}
