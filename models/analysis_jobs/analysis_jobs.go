// Logic for interacting with the "analysis_jobs" table.
package analysis_jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Shyp/go-dberror"
	"github.com/Shyp/go-types"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/db"
	uuid "github.com/kevinburke/go.uuid"
)

const Prefix = "job_"

// ErrNotFound indicates that the analysis job was not found.
var ErrNotFound = errors.New("Analysis job not found")

var enqueueStmt *sql.Stmt
var getStmt *sql.Stmt
var deleteStmt *sql.Stmt
var acquireStmt *sql.Stmt
var releaseStmt *sql.Stmt
var countReadyAndAllStmt *sql.Stmt
var countByStatusStmt *sql.Stmt
var oldJobsStmt *sql.Stmt

// StuckJobLimit is the maximum number of stuck jobs to fetch in one database
// query.
var StuckJobLimit = 100

// Setup prepares all database statements.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if enqueueStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- analysis_jobs.Enqueue
INSERT INTO analysis_jobs (%s)
SELECT $1, $2, '%s', 0, $3, $4
WHERE NOT EXISTS (
	SELECT id FROM archived_jobs WHERE id=$1
)
RETURNING %s`, insertFields(), models.StatusQueued, fields())
	enqueueStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- analysis_jobs.Get
SELECT %s
FROM analysis_jobs
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- analysis_jobs.Delete
	DELETE FROM analysis_jobs WHERE id = $1`
	deleteStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- analysis_jobs.Acquire
WITH analysis_job as (
	SELECT id AS inner_id
	FROM analysis_jobs
	WHERE status='%[1]s'
		AND run_after <= now()
	ORDER BY created_at ASC
	LIMIT 1
	FOR UPDATE
) UPDATE analysis_jobs
SET status='%[2]s',
	attempts=attempts + 1,
	updated_at=now()
FROM analysis_job
WHERE analysis_jobs.id = analysis_job.inner_id
	AND status='%[1]s'
RETURNING %[3]s`, models.StatusQueued, models.StatusInProgress, fields())
	acquireStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- analysis_jobs.Release
UPDATE analysis_jobs
SET status = '%s',
	updated_at = now(),
	run_after = $3
WHERE id = $1
	AND attempts=$2
	RETURNING %s`, models.StatusQueued, fields())
	releaseStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- analysis_jobs.CountReadyAndAll
WITH all_count AS (
	SELECT count(*) FROM analysis_jobs
), ready_count AS (
	SELECT count(*) FROM analysis_jobs WHERE run_after <= now()
)
SELECT all_count.count, ready_count.count
FROM all_count, ready_count`
	countReadyAndAllStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- analysis_jobs.GetCountByStatus
SELECT count(*) FROM analysis_jobs WHERE status=$1`
	countByStatusStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- analysis_jobs.GetOldInProgressJobs
SELECT %s FROM analysis_jobs WHERE status='%s' AND updated_at < $1 LIMIT %d`,
		fields(), models.StatusInProgress, StuckJobLimit)
	oldJobsStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}
	return
}

// Enqueue creates a new analysis job with the given ID, user and input
// payload, with zero attempts, to run no earlier than runAfter. A
// dberror.Error will be returned if Postgres returns a constraint failure
// (the id already exists). If a job with this id has already reached a
// terminal state, sql.ErrNoRows is returned; ids are never reused.
func Enqueue(id types.PrefixUUID, userID int64, runAfter time.Time, input json.RawMessage) (*models.AnalysisJob, error) {
	aj := new(models.AnalysisJob)
	// need to scan into a []byte, https://github.com/golang/go/issues/13905
	var bt []byte
	err := enqueueStmt.QueryRow(id, userID, runAfter, []byte(input)).Scan(args(aj, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, dberror.GetError(err)
	}
	aj.Input = json.RawMessage(bt)
	return aj, err
}

// Get the analysis job with the given id. Returns the job, or an error. If
// no record could be found, the error will be `analysis_jobs.ErrNotFound`.
func Get(id types.PrefixUUID) (*models.AnalysisJob, error) {
	if id.UUID == uuid.Nil {
		return nil, errors.New("Invalid id")
	}
	aj := new(models.AnalysisJob)
	var bt []byte
	err := getStmt.QueryRow(id).Scan(args(aj, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	aj.Input = json.RawMessage(bt)
	return aj, nil
}

// GetRetry attempts to retrieve the job attempts times before giving up.
func GetRetry(id types.PrefixUUID, attempts uint8) (job *models.AnalysisJob, err error) {
	for i := uint8(0); i < attempts; i++ {
		job, err = Get(id)
		if err == nil || err == ErrNotFound {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return
}

// Delete deletes the given analysis job. Returns nil if the job was deleted
// successfully. If no job exists to be deleted, ErrNotFound is returned.
func Delete(id types.PrefixUUID) error {
	if id.UUID == uuid.Nil {
		return errors.New("Invalid id")
	}
	res, err := deleteStmt.Exec(id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	} else if rows == 1 {
		return nil
	} else {
		// This should not be possible because of database constraints
		return fmt.Errorf("Multiple rows (%d) deleted for job %s, please investigate", rows, id)
	}
}

// DeleteRetry attempts to Delete the item `attempts` times.
func DeleteRetry(id types.PrefixUUID, attempts uint8) error {
	for i := uint8(0); i < attempts; i++ {
		err := Delete(id)
		if err == nil || err == ErrNotFound {
			return err
		}
	}
	return nil
}

// Acquire a queued job that's able to run now. The winning row moves to
// in-progress and has its attempts counter incremented, in one atomic
// statement; no two workers can acquire the same delivery. Returns the
// acquired job, or sql.ErrNoRows if no jobs are available.
func Acquire() (*models.AnalysisJob, error) {
	aj := new(models.AnalysisJob)
	var bt []byte

	rows, err := acquireStmt.Query()
	if err != nil {
		err = dberror.GetError(err)
		return nil, err
	}
	defer rows.Close()
	count := 0
	scanned := false
	for rows.Next() {
		count += 1
		if !scanned {
			rows.Scan(args(aj, &bt)...)
			scanned = true
		}
	}
	if count == 0 {
		return nil, sql.ErrNoRows
	}
	if count > 1 {
		panic(fmt.Sprintf("Too many rows affected by Acquire: %d", count))
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	aj.Input = json.RawMessage(bt)
	return aj, nil
}

// Release puts an existing job back in the queue, to run no earlier than
// runAfter. The attempts counter is left alone; it only moves forward, when
// a worker acquires the job. If the job does not exist, or the attempts
// counter in the database does not match the passed in attempts value
// (a stale caller lost a race), sql.ErrNoRows is returned and the write is
// discarded.
func Release(id types.PrefixUUID, attempts uint8, runAfter time.Time) (*models.AnalysisJob, error) {
	aj := new(models.AnalysisJob)
	var bt []byte
	err := releaseStmt.QueryRow(id, attempts, runAfter).Scan(args(aj, &bt)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, dberror.GetError(err)
	}
	aj.Input = json.RawMessage(bt)
	return aj, nil
}

// GetOldInProgressJobs finds in-progress jobs with an updated_at timestamp
// older than olderThan, which is how a worker crash or an unacknowledged
// delivery surfaces. A maximum of StuckJobLimit jobs will be returned.
func GetOldInProgressJobs(olderThan time.Time) ([]*models.AnalysisJob, error) {
	rows, err := oldJobsStmt.Query(olderThan)
	var jobs []*models.AnalysisJob
	if err != nil {
		return jobs, err
	}
	defer rows.Close()
	for rows.Next() {
		aj := new(models.AnalysisJob)
		var bt []byte
		err = rows.Scan(args(aj, &bt)...)
		if err != nil {
			return jobs, err
		}
		aj.Input = json.RawMessage(bt)
		jobs = append(jobs, aj)
	}
	err = rows.Err()
	return jobs, err
}

// CountReadyAndAll returns the total number of queued and ready jobs in the
// table.
func CountReadyAndAll() (allCount int, readyCount int, err error) {
	err = countReadyAndAllStmt.QueryRow().Scan(&allCount, &readyCount)
	return
}

// GetCountByStatus returns the number of jobs with the given status.
func GetCountByStatus(status models.JobStatus) (int64, error) {
	var count int64
	err := countByStatusStmt.QueryRow(status).Scan(&count)
	return count, err
}

func insertFields() string {
	return `id,
	user_id,
	status,
	attempts,
	run_after,
	input`
}

func fields() string {
	return fmt.Sprintf(`'%s' || id,
	user_id,
	status,
	attempts,
	run_after,
	input,
	created_at,
	updated_at`, Prefix)
}

func args(aj *models.AnalysisJob, byteptr *[]byte) []interface{} {
	return []interface{}{
		&aj.ID,
		&aj.UserID,
		&aj.Status,
		&aj.Attempts,
		&aj.RunAfter,
		// can't scan into Input because of https://github.com/golang/go/issues/13905
		byteptr,
		&aj.CreatedAt,
		&aj.UpdatedAt,
	}
}
