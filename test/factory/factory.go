// Package factory contains helpers for instantiating tests.
package factory

import (
	"encoding/json"
	"testing"
	"time"

	types "github.com/Shyp/go-types"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
	"github.com/d3vv3/kcal-ai-bot/test"
	uuid "github.com/kevinburke/go.uuid"
)

var EmptyData = json.RawMessage([]byte("{}"))

var JobId types.PrefixUUID

func init() {
	id, _ := types.NewPrefixUUID("job_6740b44e-13b9-475d-af06-979627e0e0d6")
	JobId = id
}

const UserId = int64(123456789)

var SampleInput = &models.MealInput{
	Text: "two scrambled eggs and a slice of whole wheat toast",
}

var SampleEstimate = &models.NutritionEstimate{
	Name:     "Scrambled eggs with toast",
	Calories: 330,
	Protein:  16,
	Carbs:    18,
	Fat:      21,
}

// RandomId returns a random UUID with the given prefix.
func RandomId(prefix string) types.PrefixUUID {
	return types.PrefixUUID{
		UUID:   uuid.NewV4(),
		Prefix: prefix,
	}
}

// InputData marshals a MealInput, panicking on failure.
func InputData(input *models.MealInput) json.RawMessage {
	data, err := json.Marshal(input)
	if err != nil {
		panic(err.Error())
	}
	return data
}

// CreateAnalysisJob enqueues a job for UserId with the given JSON input and
// returns it.
func CreateAnalysisJob(t testing.TB, input json.RawMessage) *models.AnalysisJob {
	t.Helper()
	test.SetUp(t)
	id := RandomId("job_")
	aj, err := analysis_jobs.Enqueue(id, UserId, time.Now().UTC(), input)
	test.AssertNotError(t, err, "enqueue failed")
	return aj
}

// AcquireJob enqueues a job and acquires it, so it is in progress with one
// attempt recorded.
func AcquireJob(t testing.TB, input json.RawMessage) *models.AnalysisJob {
	t.Helper()
	CreateAnalysisJob(t, input)
	aj, err := analysis_jobs.Acquire()
	test.AssertNotError(t, err, "acquire failed")
	return aj
}
