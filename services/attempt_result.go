// Mediation layer between the workers and database queries.
//
// Logic that's not related to validating request input/turning errors into
// HTTP responses should go here.
package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/Shyp/go-dberror"
	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/Shyp/go-types"
	"github.com/d3vv3/kcal-ai-bot/ai"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/archived_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/meals"
	"github.com/d3vv3/kcal-ai-bot/observability"
)

// HandleAttemptResult records the outcome of one processing attempt.
//
// On success the job is archived as succeeded, a meal row is written, and
// the live row is deleted, which acknowledges the delivery. On a retryable
// failure with attempts left, the job is released back into the queue with
// an exponential backoff delay. On a non-retryable failure, or when the
// attempts budget is spent, the job is archived as failed.
//
// Every terminal write goes through the archived_jobs primary key, so a
// stale caller finishing a redelivered job loses the race cleanly: its
// write is discarded and nil is returned.
func HandleAttemptResult(jp *JobProcessor, aj *models.AnalysisJob, estimate *models.NutritionEstimate, estErr error) error {
	if estErr == nil {
		if estimate == nil {
			return fmt.Errorf("job %s: no estimate and no error", aj.ID.String())
		}
		err := archiveSucceeded(aj, estimate)
		if err != nil {
			go metrics.Increment("archived_job.create.success.error")
		} else {
			go metrics.Increment("archived_job.create.success")
			observability.JobsProcessed.WithLabelValues("succeeded").Inc()
		}
		return err
	}

	kind := ai.Classify(estErr)
	if kind == ai.KindInvalidInput {
		go metrics.Increment("archived_job.create.invalid_input")
		observability.JobsProcessed.WithLabelValues("failed").Inc()
		return archiveFailed(aj.ID, aj.Attempts, estErr.Error())
	}

	if aj.Attempts >= jp.MaxAttempts {
		go metrics.Increment("archived_job.create.exhausted")
		observability.JobsProcessed.WithLabelValues("failed").Inc()
		failure := fmt.Sprintf("retries exhausted after %d attempts, last error: %s",
			aj.Attempts, estErr.Error())
		return archiveFailed(aj.ID, aj.Attempts, failure)
	}

	// Try the job again later. The release is a compare-and-set on the
	// attempts counter; losing it means another worker got further with
	// this job than we did, and their result stands.
	runAfter := getRunAfter(jp.BackoffBase, jp.BackoffCap, aj.Attempts)
	start := time.Now()
	_, err := analysis_jobs.Release(aj.ID, aj.Attempts, runAfter)
	go metrics.Time("analysis_jobs.release.latency", time.Since(start))
	if err == sql.ErrNoRows {
		log.Printf("job %s: release lost a race, discarding attempt %d", aj.ID.String(), aj.Attempts)
		return nil
	}
	if err == nil {
		go metrics.Increment("analysis_jobs.release")
		observability.JobsProcessed.WithLabelValues("retried").Inc()
	}
	return err
}

// archiveSucceeded creates the terminal record and the meal row, then
// deletes the live row.
func archiveSucceeded(aj *models.AnalysisJob, estimate *models.NutritionEstimate) error {
	bits, err := json.Marshal(estimate)
	if err != nil {
		return err
	}
	created, err := createArchived(aj.ID, models.StatusSucceeded, aj.Attempts, bits, "")
	if err != nil {
		return err
	}
	if created {
		if _, err := meals.Create(aj.ID, aj.UserID, estimate); err != nil {
			if !isUniqueViolation(err) {
				return err
			}
			// The meal is already logged from an earlier delivery.
		}
	}
	start := time.Now()
	err = analysis_jobs.DeleteRetry(aj.ID, 3)
	go metrics.Time("analysis_jobs.delete.latency", time.Since(start))
	if err == analysis_jobs.ErrNotFound {
		// The winner of the archive race already acknowledged the delivery.
		return nil
	}
	return err
}

// archiveFailed creates the terminal failed record and deletes the live
// row.
func archiveFailed(id types.PrefixUUID, attempts uint8, failure string) error {
	if _, err := createArchived(id, models.StatusFailed, attempts, nil, failure); err != nil {
		return err
	}
	start := time.Now()
	err := analysis_jobs.DeleteRetry(id, 3)
	go metrics.Time("analysis_jobs.delete.latency", time.Since(start))
	if err == analysis_jobs.ErrNotFound {
		return nil
	}
	return err
}

// createArchived inserts the terminal record. The boolean reports whether
// this call won the insert; false means the job was already terminal and
// the caller's result must be discarded, which is not an error.
func createArchived(id types.PrefixUUID, status models.JobStatus, attempts uint8, estimate json.RawMessage, failure string) (bool, error) {
	start := time.Now()
	_, err := archived_jobs.Create(id, status, attempts, estimate, failure)
	go metrics.Time("archived_job.create.latency", time.Since(start))
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		// Some other thread beat us to it. Don't return an error, just
		// fall through and try to delete the live record.
		log.Printf("Could not create archived job %s with status %s because "+
			"it was already present. Deleting the live job.", id.String(), status)
		return false, nil
	}
	if err == analysis_jobs.ErrNotFound {
		// The live row is gone. If the job is already archived, the winner
		// also acknowledged the delivery and this write is stale; otherwise
		// something deleted the row out from under us and that is an error.
		if _, gerr := archived_jobs.Get(id); gerr == nil {
			return false, nil
		}
	}
	return false, err
}

func isUniqueViolation(err error) bool {
	derr, ok := err.(*dberror.Error)
	return ok && derr.Code == dberror.CodeUniqueViolation
}

// getRunAfter gets the time a released job may run again: base * 2^attempts,
// capped.
func getRunAfter(base, cap time.Duration, attempts uint8) time.Time {
	backoff := time.Duration(float64(base) * math.Pow(2, float64(attempts)))
	if backoff > cap || backoff <= 0 {
		backoff = cap
	}
	return time.Now().UTC().Add(backoff)
}
