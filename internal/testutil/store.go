package testutil

import "pdfbot/internal/pdfbot"

// PurgeFailStore wraps a FileStore and fails Purge for one user, for
// exercising cleanup-failure paths.
type PurgeFailStore struct {
	pdfbot.FileStore
	FailUser int64
	Err      error
}

func (s *PurgeFailStore) Purge(userID int64) error {
	if userID == s.FailUser {
		return s.Err
	}
	return s.FileStore.Purge(userID)
}
