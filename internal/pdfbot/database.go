package pdfbot

import "time"

// SessionRecord is the persisted form of a session's identity and activity.
type SessionRecord struct {
	UserID       int64
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Database indexes sessions and their ordered file sets. The index is what
// lets upload order and last activity survive a process restart within the
// TTL window; the bytes themselves live in the FileStore.
type Database interface {
	// UpsertSession inserts or replaces the session row for userID.
	UpsertSession(userID int64, createdAt, lastActiveAt time.Time) error

	// TouchSession updates last_active_at for an existing session.
	TouchSession(userID int64, lastActiveAt time.Time) error

	// FindSession returns the session row for userID, or nil if absent.
	FindSession(userID int64) (*SessionRecord, error)

	// ListSessions returns every persisted session.
	ListSessions() ([]*SessionRecord, error)

	// DeleteSession removes the session row and all of its file refs.
	DeleteSession(userID int64) error

	// AppendFileRef appends ref to the end of the user's ordered file set.
	AppendFileRef(userID int64, ref *FileRef) error

	// ListFileRefs returns the user's file refs in upload order.
	ListFileRefs(userID int64) ([]FileRef, error)

	// DeleteFileRefs removes all file refs for userID, keeping the session row.
	DeleteFileRefs(userID int64) error

	Close() error
}
