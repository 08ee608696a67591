package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shyp/go-types"
)

type JobStatus string

// StatusQueued indicates an AnalysisJob is waiting to be picked up by a
// worker.
const StatusQueued = JobStatus("queued")

// StatusInProgress indicates an AnalysisJob has been acquired by a worker,
// which is calling the AI service on its behalf.
const StatusInProgress = JobStatus("in-progress")

// StatusSucceeded and StatusFailed are terminal; a job with either status
// lives in the archived_jobs table and never changes again.
const StatusSucceeded = JobStatus("succeeded")
const StatusFailed = JobStatus("failed")

// Scan implements the Scanner interface.
func (j *JobStatus) Scan(src interface{}) error {
	if src == nil {
		return nil
	} else if txt, ok := src.(string); ok {
		*j = JobStatus(txt)
		return nil
	} else if txt, ok := src.([]byte); ok {
		*j = JobStatus(string(txt))
		return nil
	}
	return fmt.Errorf("Unsupported JobStatus: %#v", src)
}

func (j JobStatus) Value() (driver.Value, error) {
	return string(j), nil
}

// An AnalysisJob is one meal submission working its way through the
// pipeline.
//
// AnalysisJobs can have the status "queued" (waiting for a worker, possibly
// with a run_after in the future after a failed attempt) or "in-progress"
// (a worker has acquired it). Terminal jobs move to the archived_jobs
// table.
type AnalysisJob struct {
	ID        types.PrefixUUID `json:"id"`
	UserID    int64            `json:"user_id"`
	Status    JobStatus        `json:"status"`
	Attempts  uint8            `json:"attempts"`
	RunAfter  time.Time        `json:"run_after"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Input     json.RawMessage  `json:"input"`
}
