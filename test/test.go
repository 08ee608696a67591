// Package test contains shared setup and assertion helpers.
package test

import (
	"fmt"
	"os"
	"testing"

	"github.com/d3vv3/kcal-ai-bot/models/db"
	"github.com/d3vv3/kcal-ai-bot/setup"
)

// SetUp connects to the test database, or skips the test when no
// DATABASE_URL is configured.
func SetUp(t testing.TB) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping database test")
	}
	if err := setup.DB(setup.DefaultConnection, 10); err != nil {
		t.Fatal(err)
	}
}

// TruncateTables deletes all records from the database.
func TruncateTables(t testing.TB) error {
	getTableDelete := func(table string) string {
		return "DELETE FROM " + table
	}
	var name string
	if t == nil {
		name = "TruncateTables"
	} else {
		name = t.Name()
	}
	_, err := db.Conn.Exec(fmt.Sprintf("-- %s\n%s;\n%s;\n%s",
		name,
		getTableDelete("archived_jobs"),
		getTableDelete("meals"),
		getTableDelete("analysis_jobs"),
	))
	return err
}

// TearDown deletes all records from the database, and marks the test as failed
// if this was unsuccessful.
func TearDown(t testing.TB) {
	t.Helper()
	if db.Connected() {
		if err := TruncateTables(t); err != nil {
			t.Fatal(err)
		}
	}
}
