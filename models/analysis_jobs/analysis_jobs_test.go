package analysis_jobs_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/Shyp/go-dberror"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/archived_jobs"
	"github.com/d3vv3/kcal-ai-bot/test"
	"github.com/d3vv3/kcal-ai-bot/test/factory"
)

func TestEnqueue(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.CreateAnalysisJob(t, factory.EmptyData)
	test.AssertEquals(t, aj.UserID, factory.UserId)
	test.AssertEquals(t, aj.Status, models.StatusQueued)
	test.AssertEquals(t, aj.Attempts, uint8(0))

	diff := time.Since(aj.CreatedAt)
	test.Assert(t, diff < 100*time.Millisecond, "")

	diff = time.Since(aj.UpdatedAt)
	test.Assert(t, diff < 100*time.Millisecond, "")
}

func TestEnqueueDuplicateIdFails(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	_, err := analysis_jobs.Enqueue(factory.JobId, factory.UserId, time.Now().UTC(), factory.EmptyData)
	test.AssertNotError(t, err, "")
	_, err = analysis_jobs.Enqueue(factory.JobId, factory.UserId, time.Now().UTC(), factory.EmptyData)
	test.AssertError(t, err, "")
	switch terr := err.(type) {
	case *dberror.Error:
		test.AssertEquals(t, terr.Code, dberror.CodeUniqueViolation)
		test.AssertEquals(t, terr.Table, "analysis_jobs")
	default:
		t.Fatalf("Expected a dberror, got %#v", terr)
	}
}

func TestEnqueueArchivedIdReturnsErrNoRows(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.EmptyData)
	_, err := archived_jobs.Create(aj.ID, models.StatusSucceeded, aj.Attempts, nil, "")
	test.AssertNotError(t, err, "")
	test.AssertNotError(t, analysis_jobs.Delete(aj.ID), "")

	_, err = analysis_jobs.Enqueue(aj.ID, factory.UserId, time.Now().UTC(), factory.EmptyData)
	test.AssertEquals(t, err, sql.ErrNoRows)
}

func TestGetNonexistentReturnsErrNotFound(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	_, err := analysis_jobs.Get(factory.RandomId("job_"))
	test.AssertEquals(t, err, analysis_jobs.ErrNotFound)
}

func TestGetReturnsInput(t *testing.T) {
	defer test.TearDown(t)
	input := factory.InputData(factory.SampleInput)
	aj := factory.CreateAnalysisJob(t, input)
	got, err := analysis_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "")
	test.AssertEquals(t, got.ID.String(), aj.ID.String())
	test.AssertDeepEquals(t, got.Input, aj.Input)
}

func TestAcquireMarksInProgressAndCountsTheAttempt(t *testing.T) {
	defer test.TearDown(t)
	factory.CreateAnalysisJob(t, factory.EmptyData)
	aj, err := analysis_jobs.Acquire()
	test.AssertNotError(t, err, "")
	test.AssertEquals(t, aj.Status, models.StatusInProgress)
	test.AssertEquals(t, aj.Attempts, uint8(1))
}

func TestAcquireEmptyQueueReturnsErrNoRows(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	_, err := analysis_jobs.Acquire()
	test.AssertEquals(t, err, sql.ErrNoRows)
}

func TestAcquireSkipsFutureJobs(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	runAfter := time.Now().UTC().Add(5 * time.Minute)
	_, err := analysis_jobs.Enqueue(factory.RandomId("job_"), factory.UserId, runAfter, factory.EmptyData)
	test.AssertNotError(t, err, "")
	_, err = analysis_jobs.Acquire()
	test.AssertEquals(t, err, sql.ErrNoRows)
}

func TestAcquireSameJobOnlyOnce(t *testing.T) {
	defer test.TearDown(t)
	factory.CreateAnalysisJob(t, factory.EmptyData)
	_, err := analysis_jobs.Acquire()
	test.AssertNotError(t, err, "")
	_, err = analysis_jobs.Acquire()
	test.AssertEquals(t, err, sql.ErrNoRows)
}

func TestReleaseRequeues(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.EmptyData)
	released, err := analysis_jobs.Release(aj.ID, aj.Attempts, time.Now().UTC())
	test.AssertNotError(t, err, "")
	test.AssertEquals(t, released.Status, models.StatusQueued)
	test.AssertEquals(t, released.Attempts, aj.Attempts)
}

func TestReleaseStaleAttemptsReturnsErrNoRows(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.EmptyData)
	_, err := analysis_jobs.Release(aj.ID, aj.Attempts+1, time.Now().UTC())
	test.AssertEquals(t, err, sql.ErrNoRows)
}

func TestDeleteNonexistentReturnsErrNotFound(t *testing.T) {
	test.SetUp(t)
	defer test.TearDown(t)
	err := analysis_jobs.Delete(factory.RandomId("job_"))
	test.AssertEquals(t, err, analysis_jobs.ErrNotFound)
}

func TestDelete(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.CreateAnalysisJob(t, factory.EmptyData)
	test.AssertNotError(t, analysis_jobs.Delete(aj.ID), "")
	_, err := analysis_jobs.Get(aj.ID)
	test.AssertEquals(t, err, analysis_jobs.ErrNotFound)
}

func TestGetOldInProgressJobs(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.EmptyData)
	jobs, err := analysis_jobs.GetOldInProgressJobs(time.Now().UTC().Add(time.Minute))
	test.AssertNotError(t, err, "")
	test.AssertEquals(t, len(jobs), 1)
	test.AssertEquals(t, jobs[0].ID.String(), aj.ID.String())

	jobs, err = analysis_jobs.GetOldInProgressJobs(time.Now().UTC().Add(-1 * time.Minute))
	test.AssertNotError(t, err, "")
	test.AssertEquals(t, len(jobs), 0)
}

func TestCountReadyAndAll(t *testing.T) {
	defer test.TearDown(t)
	factory.CreateAnalysisJob(t, factory.EmptyData)
	factory.CreateAnalysisJob(t, factory.EmptyData)
	runAfter := time.Now().UTC().Add(5 * time.Minute)
	_, err := analysis_jobs.Enqueue(factory.RandomId("job_"), factory.UserId, runAfter, factory.EmptyData)
	test.AssertNotError(t, err, "")

	all, ready, err := analysis_jobs.CountReadyAndAll()
	test.AssertNotError(t, err, "")
	test.AssertEquals(t, all, 3)
	test.AssertEquals(t, ready, 2)
}
