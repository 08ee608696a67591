package services

import (
	"log"
	"time"

	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/d3vv3/kcal-ai-bot/models/archived_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/meals"
)

// DeleteExpiredRecords garbage-collects terminal job records and meals
// older than the ttl.
func DeleteExpiredRecords(ttl time.Duration) error {
	before := time.Now().Add(-1 * ttl)
	jobCount, err := archived_jobs.DeleteExpired(before)
	if err != nil {
		return err
	}
	mealCount, err := meals.DeleteExpired(before)
	if err != nil {
		return err
	}
	if jobCount > 0 || mealCount > 0 {
		go metrics.Measure("retention.archived_jobs.deleted", jobCount)
		go metrics.Measure("retention.meals.deleted", mealCount)
		log.Printf("retention: deleted %d archived jobs and %d meals older than %v",
			jobCount, mealCount, ttl)
	}
	return nil
}

// WatchRetention runs the retention sweep every interval.
func WatchRetention(interval time.Duration, ttl time.Duration) {
	for range time.Tick(interval) {
		go func() {
			if err := DeleteExpiredRecords(ttl); err != nil {
				log.Printf("Error deleting expired records: %s\n", err.Error())
			}
		}()
	}
}
