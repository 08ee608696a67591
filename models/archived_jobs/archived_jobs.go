// Logic for interacting with the "archived_jobs" table.
package archived_jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Shyp/go-dberror"
	"github.com/Shyp/go-types"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
	"github.com/d3vv3/kcal-ai-bot/models/db"
	uuid "github.com/kevinburke/go.uuid"
)

const Prefix = "job_"

// ErrNotFound indicates that the archived job was not found.
var ErrNotFound = errors.New("Archived job not found")

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var deleteExpiredStmt *sql.Stmt

// Setup prepares all database statements.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- archived_jobs.Create
INSERT INTO archived_jobs (%s)
SELECT id, user_id, $2, $3, input, $4, $5
FROM analysis_jobs
WHERE id=$1
RETURNING %s`, insertFields(), fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- archived_jobs.Get
SELECT %s
FROM archived_jobs
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- archived_jobs.DeleteExpired
DELETE FROM archived_jobs WHERE created_at < $1`
	deleteExpiredStmt, err = db.Conn.Prepare(query)
	return
}

// Create an archived job with the given id, terminal status and attempts.
// The user id and input are copied from the live row in analysis_jobs, so
// the live row must still exist. estimate should be non-nil iff the status
// is "succeeded"; failure should be non-empty iff the status is "failed".
//
// The archived_jobs primary key makes this the compare-and-set on
// terminality: if the job was already archived (a redelivered duplicate
// finishing late), Postgres returns a unique violation and the caller
// should discard its write. If the live row no longer exists,
// analysis_jobs.ErrNotFound is returned.
func Create(id types.PrefixUUID, status models.JobStatus, attempts uint8, estimate json.RawMessage, failure string) (*models.ArchivedJob, error) {
	aj := new(models.ArchivedJob)
	var inputBits []byte
	var estimateBits []byte
	var est interface{}
	if estimate != nil {
		est = []byte(estimate)
	}
	err := createStmt.QueryRow(id, status, attempts, est, failure).Scan(args(aj, &inputBits, &estimateBits)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, analysis_jobs.ErrNotFound
		}
		err = dberror.GetError(err)
		return nil, err
	}
	aj.Input = json.RawMessage(inputBits)
	aj.Estimate = json.RawMessage(estimateBits)
	return aj, nil
}

// Get returns the archived job with the given id, or ErrNotFound if it's
// not present.
func Get(id types.PrefixUUID) (*models.ArchivedJob, error) {
	if id.UUID == uuid.Nil {
		return nil, errors.New("Invalid id")
	}
	aj := new(models.ArchivedJob)
	var inputBits []byte
	var estimateBits []byte
	err := getStmt.QueryRow(id).Scan(args(aj, &inputBits, &estimateBits)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		err = dberror.GetError(err)
		return nil, err
	}
	aj.Input = json.RawMessage(inputBits)
	aj.Estimate = json.RawMessage(estimateBits)
	return aj, nil
}

// GetRetry attempts to retrieve the job attempts times before giving up.
func GetRetry(id types.PrefixUUID, attempts uint8) (job *models.ArchivedJob, err error) {
	for i := uint8(0); i < attempts; i++ {
		job, err = Get(id)
		if err == nil || err == ErrNotFound {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return
}

// DeleteExpired removes terminal records created before the given time, and
// reports how many rows were removed. Retention policy lives with the
// caller.
func DeleteExpired(before time.Time) (int64, error) {
	res, err := deleteExpiredStmt.Exec(before)
	if err != nil {
		return 0, dberror.GetError(err)
	}
	return res.RowsAffected()
}

func insertFields() string {
	return `id,
	user_id,
	status,
	attempts,
	input,
	estimate,
	failure`
}

func fields() string {
	return fmt.Sprintf(`'%s' || id,
	user_id,
	status,
	attempts,
	input,
	estimate,
	failure,
	created_at`, Prefix)
}

func args(aj *models.ArchivedJob, inputptr *[]byte, estimateptr *[]byte) []interface{} {
	return []interface{}{
		&aj.ID,
		&aj.UserID,
		&aj.Status,
		&aj.Attempts,
		// can't scan into Input because of https://github.com/golang/go/issues/13905
		inputptr,
		estimateptr,
		&aj.Failure,
		&aj.CreatedAt,
	}
}
