package models

import (
	"encoding/json"
	"time"

	"github.com/Shyp/go-types"
)

// An ArchivedJob is the terminal record for an analysis job. Estimate is
// present iff Status is "succeeded"; Failure holds the last failure reason
// iff Status is "failed".
type ArchivedJob struct {
	ID        types.PrefixUUID `json:"id"`
	UserID    int64            `json:"user_id"`
	Status    JobStatus        `json:"status"`
	Attempts  uint8            `json:"attempts"`
	CreatedAt time.Time        `json:"created_at"`
	Input     json.RawMessage  `json:"input"`
	Estimate  json.RawMessage  `json:"estimate,omitempty"`
	Failure   string           `json:"failure,omitempty"`
}
