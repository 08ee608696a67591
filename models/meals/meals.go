// Logic for interacting with the "meals" table.
//
// A meal row is written when an analysis job succeeds, and is what the
// daily status and history endpoints read. Meals share their UUID with the
// job that produced them, which is also what makes the insert idempotent
// under redelivery.
package meals

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Shyp/go-dberror"
	"github.com/Shyp/go-types"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/db"
	uuid "github.com/kevinburke/go.uuid"
)

const Prefix = "meal_"

// ErrNotFound indicates that the meal was not found.
var ErrNotFound = errors.New("Meal not found")

// ErrWrongUser indicates the meal exists but belongs to a different user.
var ErrWrongUser = errors.New("Meal belongs to a different user")

var createStmt *sql.Stmt
var getStmt *sql.Stmt
var deleteStmt *sql.Stmt
var dailyTotalsStmt *sql.Stmt
var historyStmt *sql.Stmt
var deleteExpiredStmt *sql.Stmt

// Setup prepares all database statements.
func Setup() (err error) {
	if !db.Connected() {
		return errors.New("No DB connection was established, can't query")
	}

	if createStmt != nil {
		return
	}

	query := fmt.Sprintf(`-- meals.Create
INSERT INTO meals (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING %s`, insertFields(), fields())
	createStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- meals.Get
SELECT %s
FROM meals
WHERE id = $1`, fields())
	getStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- meals.Delete
DELETE FROM meals WHERE id = $1 AND user_id = $2`
	deleteStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- meals.DailyTotals
SELECT count(*),
	COALESCE(sum(calories), 0),
	COALESCE(sum(protein), 0),
	COALESCE(sum(carbs), 0),
	COALESCE(sum(fat), 0)
FROM meals
WHERE user_id = $1 AND created_at >= $2`
	dailyTotalsStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = fmt.Sprintf(`-- meals.History
SELECT %s
FROM meals
WHERE user_id = $1 AND created_at >= $2
ORDER BY created_at ASC`, fields())
	historyStmt, err = db.Conn.Prepare(query)
	if err != nil {
		return err
	}

	query = `-- meals.DeleteExpired
DELETE FROM meals WHERE created_at < $1`
	deleteExpiredStmt, err = db.Conn.Prepare(query)
	return
}

// Create inserts a meal row for the given user from a nutrition estimate.
// A dberror.Error with a unique violation is returned if a meal with this
// id already exists; callers completing a redelivered job should treat that
// as success.
func Create(id types.PrefixUUID, userID int64, estimate *models.NutritionEstimate) (*models.Meal, error) {
	m := new(models.Meal)
	err := createStmt.QueryRow(id, userID, estimate.Name, estimate.Calories,
		estimate.Protein, estimate.Carbs, estimate.Fat).Scan(args(m)...)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return m, nil
}

// Get returns the meal with the given id, or ErrNotFound.
func Get(id types.PrefixUUID) (*models.Meal, error) {
	if id.UUID == uuid.Nil {
		return nil, errors.New("Invalid id")
	}
	m := new(models.Meal)
	err := getStmt.QueryRow(id).Scan(args(m)...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, dberror.GetError(err)
	}
	return m, nil
}

// Delete removes the meal with the given id from userID's log. Returns
// ErrNotFound if the meal does not exist, and ErrWrongUser if it exists but
// was logged by someone else.
func Delete(id types.PrefixUUID, userID int64) error {
	if id.UUID == uuid.Nil {
		return errors.New("Invalid id")
	}
	res, err := deleteStmt.Exec(id, userID)
	if err != nil {
		return dberror.GetError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	// Disambiguate the empty delete for the API's 403/404 split.
	if _, err := Get(id); err != nil {
		return err
	}
	return ErrWrongUser
}

// DailyTotals sums a user's meals since the given time, usually midnight in
// the server's timezone.
func DailyTotals(userID int64, since time.Time) (*models.DailyTotals, error) {
	totals := new(models.DailyTotals)
	err := dailyTotalsStmt.QueryRow(userID, since).Scan(&totals.Meals,
		&totals.Calories, &totals.Protein, &totals.Carbs, &totals.Fat)
	if err != nil {
		return nil, dberror.GetError(err)
	}
	return totals, nil
}

// History returns a user's meals since the given time, oldest first.
func History(userID int64, since time.Time) ([]*models.Meal, error) {
	rows, err := historyStmt.Query(userID, since)
	var meals []*models.Meal
	if err != nil {
		return meals, dberror.GetError(err)
	}
	defer rows.Close()
	for rows.Next() {
		m := new(models.Meal)
		if err := rows.Scan(args(m)...); err != nil {
			return meals, err
		}
		meals = append(meals, m)
	}
	err = rows.Err()
	return meals, err
}

// DeleteExpired removes meals created before the given time, and reports
// how many rows were removed.
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
	name,
	calories,
	protein,
	carbs,
	fat`
}

func fields() string {
	return fmt.Sprintf(`'%s' || id,
	user_id,
	name,
	calories,
	protein,
	carbs,
	fat,
	created_at`, Prefix)
}

func args(m *models.Meal) []interface{} {
	return []interface{}{
		&m.ID,
		&m.UserID,
		&m.Name,
		&m.Calories,
		&m.Protein,
		&m.Carbs,
		&m.Fat,
		&m.CreatedAt,
	}
}
