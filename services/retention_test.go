package services_test

import (
	"testing"
	"time"

	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/archived_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/db"
	"github.com/d3vv3/kcal-ai-bot/models/meals"
	"github.com/d3vv3/kcal-ai-bot/services"
	"github.com/d3vv3/kcal-ai-bot/test"
	"github.com/d3vv3/kcal-ai-bot/test/factory"
)

func TestDeleteExpiredRecords(t *testing.T) {
	defer test.TearDown(t)
	aj := factory.AcquireJob(t, factory.InputData(factory.SampleInput))
	_, err := archived_jobs.Create(aj.ID, models.StatusSucceeded, aj.Attempts, nil, "")
	test.AssertNotError(t, err, "")
	_, err = meals.Create(aj.ID, aj.UserID, factory.SampleEstimate)
	test.AssertNotError(t, err, "")

	// Fresh records survive the sweep.
	test.AssertNotError(t, services.DeleteExpiredRecords(time.Hour), "")
	_, err = archived_jobs.Get(aj.ID)
	test.AssertNotError(t, err, "")

	_, err = db.Conn.Exec("UPDATE archived_jobs SET created_at = now() - interval '2 days'")
	test.AssertNotError(t, err, "backdating archived job")
	_, err = db.Conn.Exec("UPDATE meals SET created_at = now() - interval '2 days'")
	test.AssertNotError(t, err, "backdating meal")

	test.AssertNotError(t, services.DeleteExpiredRecords(24*time.Hour), "")
	_, err = archived_jobs.Get(aj.ID)
	test.AssertEquals(t, err, archived_jobs.ErrNotFound)
	_, err = meals.Get(aj.ID)
	test.AssertEquals(t, err, meals.ErrNotFound)
}
