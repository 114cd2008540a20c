package testutil

import (
	"testing"

	"pdfbot/internal/database"
	"pdfbot/internal/pdfbot"
)

// NewTestDatabase creates an in-memory session index, migrated to the
// latest schema and closed when the test finishes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()
	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("creating test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// AppendFailDatabase wraps a Database and fails AppendFileRef, for
// exercising index-failure paths.
type AppendFailDatabase struct {
	pdfbot.Database
	Err error
}

func (d *AppendFailDatabase) AppendFileRef(int64, *pdfbot.FileRef) error {
	return d.Err
}
