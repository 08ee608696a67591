package services

import (
	"log"
	"time"

	"github.com/d3vv3/kcal-ai-bot/ai"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
)

// ReleaseStuckJobs finds in-progress jobs whose updated_at timestamp is
// older than the olderThan value and puts them back through the attempt
// state machine as a transient failure. A delivery goes stuck when its
// worker dies mid-call or exits without acknowledging, so this sweep is
// what makes delivery at-least-once: with attempts left the job re-enters
// the queue, otherwise it is failed for good.
func ReleaseStuckJobs(jp *JobProcessor, olderThan time.Duration) error {
	var olderThanTime time.Time
	if olderThan >= 0 {
		olderThanTime = time.Now().Add(-1 * olderThan)
	} else {
		olderThanTime = time.Now().Add(olderThan)
	}
	jobs, err := analysis_jobs.GetOldInProgressJobs(olderThanTime)
	if err != nil {
		return err
	}
	for _, aj := range jobs {
		err = HandleAttemptResult(jp, aj, nil, &ai.Error{
			Kind:    ai.KindTransient,
			Message: "worker did not acknowledge the delivery",
		})
		if err == nil {
			log.Printf("Found stuck job %s and released it", aj.ID.String())
		} else {
			// We don't want to return an error here since there may easily
			// be race/idempotence errors with a stuck job watcher. If it
			// errors we'll grab it with the next sweep.
			log.Printf("Found stuck job %s but could not process it: %s", aj.ID.String(), err.Error())
		}
	}
	return nil
}

// WatchStuckJobs polls the analysis_jobs table for stuck jobs (defined as
// in-progress jobs that haven't been updated in olderThan time, the
// queue's visibility timeout) and releases or fails them.
func WatchStuckJobs(jp *JobProcessor, interval time.Duration, olderThan time.Duration) {
	for range time.Tick(interval) {
		go func() {
			err := ReleaseStuckJobs(jp, olderThan)
			if err != nil {
				log.Printf("Error releasing stuck jobs: %s\n", err.Error())
			}
		}()
	}
}
