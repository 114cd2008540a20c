package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pdfbot/internal/database/migrations"
	"pdfbot/internal/pdfbot"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the pdfbot.Database session index using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase opens (or creates) the index at path and migrates it to
// the latest schema. path can be ":memory:" for an in-memory index.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the index relies on. Exported for tests that need a raw connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection only: PRAGMAs are connection-scoped, and a pooled
	// second connection to a ":memory:" path would get its own empty
	// database.
	db.SetMaxOpenConns(1)

	// Foreign keys drive the file_refs cascade on session deletion; SQLite
	// defaults them to OFF.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

func (s *SQLiteDatabase) UpsertSession(userID int64, createdAt, lastActiveAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (user_id, created_at, last_active_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			created_at = excluded.created_at,
			last_active_at = excluded.last_active_at`,
		userID, createdAt, lastActiveAt)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) TouchSession(userID int64, lastActiveAt time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_active_at = ? WHERE user_id = ?`,
		lastActiveAt, userID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) FindSession(userID int64) (*pdfbot.SessionRecord, error) {
	rec := pdfbot.SessionRecord{UserID: userID}
	err := s.db.QueryRow(`
		SELECT created_at, last_active_at FROM sessions WHERE user_id = ?`,
		userID).Scan(&rec.CreatedAt, &rec.LastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding session: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteDatabase) ListSessions() ([]*pdfbot.SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT user_id, created_at, last_active_at FROM sessions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var records []*pdfbot.SessionRecord
	for rows.Next() {
		var rec pdfbot.SessionRecord
		if err := rows.Scan(&rec.UserID, &rec.CreatedAt, &rec.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return records, nil
}

func (s *SQLiteDatabase) DeleteSession(userID int64) error {
	// file_refs rows go with it via ON DELETE CASCADE.
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) AppendFileRef(userID int64, ref *pdfbot.FileRef) error {
	_, err := s.db.Exec(`
		INSERT INTO file_refs (id, user_id, position, filename, stored_path, size_bytes, uploaded_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM file_refs WHERE user_id = ?), ?, ?, ?, ?)`,
		ref.ID, userID, userID, ref.Filename, ref.StoredPath, ref.SizeBytes, ref.UploadedAt)
	if err != nil {
		return fmt.Errorf("appending file ref: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListFileRefs(userID int64) ([]pdfbot.FileRef, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, stored_path, size_bytes, uploaded_at
		FROM file_refs WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing file refs: %w", err)
	}
	defer rows.Close()

	var refs []pdfbot.FileRef
	for rows.Next() {
		var ref pdfbot.FileRef
		if err := rows.Scan(&ref.ID, &ref.Filename, &ref.StoredPath, &ref.SizeBytes, &ref.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning file ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file refs: %w", err)
	}
	return refs, nil
}

func (s *SQLiteDatabase) DeleteFileRefs(userID int64) error {
	if _, err := s.db.Exec(`DELETE FROM file_refs WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting file refs: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Compile-time check that SQLiteDatabase implements pdfbot.Database.
var _ pdfbot.Database = (*SQLiteDatabase)(nil)
