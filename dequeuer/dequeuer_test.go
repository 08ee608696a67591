package dequeuer_test

import (
	"testing"
	"time"

	"github.com/d3vv3/kcal-ai-bot/dequeuer"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
	"github.com/d3vv3/kcal-ai-bot/test"
	"github.com/d3vv3/kcal-ai-bot/test/factory"
)

type channelWorker struct {
	jobs chan *models.AnalysisJob
}

func (c *channelWorker) DoWork(aj *models.AnalysisJob) error {
	c.jobs <- aj
	return nil
}

func TestPoolShutsDown(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	w := &channelWorker{jobs: make(chan *models.AnalysisJob, 10)}
	pool, err := dequeuer.CreatePool(w, 3)
	test.AssertNotError(t, err, "creating pool")
	test.AssertEquals(t, len(pool.Dequeuers), 3)

	done := make(chan bool, 1)
	go func() {
		test.AssertNotError(t, pool.Shutdown(), "")
		done <- true
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not shut down in 2 seconds")
	}
	test.AssertEquals(t, len(pool.Dequeuers), 0)
}

func TestPoolRejectsWorkersAfterShutdown(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	w := &channelWorker{jobs: make(chan *models.AnalysisJob, 10)}
	pool, err := dequeuer.CreatePool(w, 1)
	test.AssertNotError(t, err, "creating pool")
	test.AssertNotError(t, pool.Shutdown(), "")
	test.AssertError(t, pool.AddDequeuer(w), "expected AddDequeuer to fail after shutdown")
}

func TestPoolProcessesQueuedJob(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	aj := factory.CreateAnalysisJob(t, factory.InputData(factory.SampleInput))

	w := &channelWorker{jobs: make(chan *models.AnalysisJob, 10)}
	pool, err := dequeuer.CreatePool(w, 3)
	test.AssertNotError(t, err, "creating pool")
	defer pool.Shutdown()

	select {
	case got := <-w.jobs:
		test.AssertEquals(t, got.ID.String(), aj.ID.String())
		test.AssertEquals(t, got.Status, models.StatusInProgress)
		test.AssertEquals(t, got.Attempts, uint8(1))
	case <-time.After(5 * time.Second):
		t.Fatalf("job was not dequeued in 5 seconds")
	}

	// The delivery stays unacknowledged until the worker records an
	// outcome.
	inProgress, err := analysis_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "")
	test.AssertEquals(t, inProgress.Status, models.StatusInProgress)
}
