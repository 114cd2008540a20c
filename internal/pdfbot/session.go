package pdfbot

import (
	"sync"
	"time"
)

// FileRef is the metadata record for one stored uploaded PDF. It is owned
// exclusively by its session and never shared across users.
type FileRef struct {
	ID         string
	Filename   string
	StoredPath string
	SizeBytes  int64
	UploadedAt time.Time
}

// Session is one user's live working context: the ordered file set, the
// activity timestamp, and the per-user operation lock. Files are kept in
// upload order; that order is the merge and list order.
type Session struct {
	UserID    int64
	CreatedAt time.Time

	// opMu serializes mutating operations for this user. It is taken with
	// TryAcquire so a concurrent second command is rejected, not queued.
	opMu sync.Mutex

	mu         sync.RWMutex
	refs       []FileRef
	lastActive time.Time
}

// TryAcquire attempts to take the session's operation lock without blocking.
func (s *Session) TryAcquire() bool { return s.opMu.TryLock() }

// Release releases the operation lock.
func (s *Session) Release() { s.opMu.Unlock() }

// Refs returns a snapshot of the file set in upload order. Safe to call
// without holding the operation lock.
func (s *Session) Refs() []FileRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FileRef, len(s.refs))
	copy(out, s.refs)
	return out
}

// LastActive returns the time of the session's most recent activity.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// TotalSize returns the summed size of all files in the set.
func (s *Session) TotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, ref := range s.refs {
		total += ref.SizeBytes
	}
	return total
}

func (s *Session) appendRef(ref FileRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, ref)
}

func (s *Session) clearRefs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = nil
}

func (s *Session) findRef(filename string) (FileRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ref := range s.refs {
		if ref.Filename == filename {
			return ref, true
		}
	}
	return FileRef{}, false
}

func (s *Session) touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = t
}
