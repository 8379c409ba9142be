// Package testdb opens the live Postgres used by integration tests. Tests
// calling Open are skipped unless ATTENDANCE_TEST_DATABASE_URL is set.
package testdb

import (
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-attendance/pkg/database"
)

const EnvURL = "ATTENDANCE_TEST_DATABASE_URL"

// Open connects, migrates and returns the test database.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv(EnvURL)
	if dsn == "" {
		t.Skipf("%s not set", EnvURL)
	}
	sqlDB, err := database.Connect(database.Config{DSN: dsn, MaxConns: 40, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.Wrap(sqlDB)
}

// Event inserts an event whose window contains now.
func Event(t testing.TB, db *sqlx.DB, active bool) int64 {
	t.Helper()
	var id int64
	err := db.Get(&id, `INSERT INTO events (name, starts_at, ends_at, is_active) VALUES ($1, NOW() - interval '1 hour', NOW() + interval '1 hour', $2) RETURNING id`,
		t.Name(), active)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
	return id
}

// Participant inserts an active participant in department.
func Participant(t testing.TB, db *sqlx.DB, department string) int64 {
	t.Helper()
	var id int64
	if err := db.Get(&id, `INSERT INTO participants (name, department) VALUES ($1, $2) RETURNING id`, t.Name(), department); err != nil {
		t.Fatalf("insert participant: %v", err)
	}
	return id
}

// Volunteer inserts an active volunteer.
func Volunteer(t testing.TB, db *sqlx.DB) int64 {
	t.Helper()
	var id int64
	if err := db.Get(&id, `INSERT INTO volunteers (name) VALUES ($1) RETURNING id`, t.Name()); err != nil {
		t.Fatalf("insert volunteer: %v", err)
	}
	return id
}
