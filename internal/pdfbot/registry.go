package pdfbot

import (
	"fmt"
	"sync"
	"time"
)

// Registry is the single source of truth mapping a user id to its Session.
// It creates sessions on demand, rehydrates them from the database after a
// restart, and destroys them on TTL expiry. The registry lock is held only
// for map lookups and inserts, never across I/O or a full operation.
type Registry struct {
	db     Database
	store  FileStore
	clock  Clock
	logger Logger
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewRegistry creates a Registry enforcing the given idle TTL.
func NewRegistry(db Database, store FileStore, clock Clock, logger Logger, ttl time.Duration) *Registry {
	return &Registry{
		db:       db,
		store:    store,
		clock:    clock,
		logger:   logger,
		ttl:      ttl,
		sessions: make(map[int64]*Session),
	}
}

// GetOrCreate returns the live session for userID, creating or rehydrating
// one as needed. Safe for concurrent calls with the same userID: exactly one
// Session instance wins and all callers observe it.
func (r *Registry) GetOrCreate(userID int64) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// Load outside the registry lock. Two racing callers may both get
	// here; the second insert below discards the loser's instance.
	s, err := r.loadOrCreate(userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[userID]; ok {
		return existing, nil
	}
	r.sessions[userID] = s
	return s, nil
}

// loadOrCreate builds a Session from the persisted row when one exists and
// is still within TTL, and otherwise starts a fresh one. A stale row from a
// previous run is purged together with its directory.
func (r *Registry) loadOrCreate(userID int64) (*Session, error) {
	now := r.clock.Now()

	rec, err := r.db.FindSession(userID)
	if err != nil {
		return nil, WrapE(KindStorage, err, "loading session for user %d", userID)
	}

	if rec != nil && now.Sub(rec.LastActiveAt) < r.ttl {
		refs, err := r.db.ListFileRefs(userID)
		if err != nil {
			return nil, WrapE(KindStorage, err, "loading files for user %d", userID)
		}
		return &Session{
			UserID:     userID,
			CreatedAt:  rec.CreatedAt,
			refs:       refs,
			lastActive: rec.LastActiveAt,
		}, nil
	}

	if rec != nil {
		if err := r.store.Purge(userID); err != nil {
			r.logger.Warn("purging stale session directory", "user", userID, "error", err)
		}
		if err := r.db.DeleteSession(userID); err != nil {
			return nil, WrapE(KindStorage, err, "removing stale session for user %d", userID)
		}
	}

	if err := r.db.UpsertSession(userID, now, now); err != nil {
		return nil, WrapE(KindStorage, err, "creating session for user %d", userID)
	}
	return &Session{UserID: userID, CreatedAt: now, lastActive: now}, nil
}

// Touch records activity for userID, restarting its TTL countdown.
func (r *Registry) Touch(userID int64) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return
	}
	now := r.clock.Now()
	s.touch(now)
	if err := r.db.TouchSession(userID, now); err != nil {
		r.logger.Warn("recording session activity", "user", userID, "error", err)
	}
}

// ExpireIfIdle removes the session when its idle time has reached the TTL.
// A session whose operation lock is currently held is never expired; the
// caller retries on a later sweep. Sessions persisted by a previous run but
// not yet hydrated are expired straight from their row. Returns true when
// the session was removed, even if disk or index cleanup then failed.
func (r *Registry) ExpireIfIdle(userID int64, now time.Time) (bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return r.expirePersisted(userID, now)
	}
	if !s.TryAcquire() {
		r.mu.Unlock()
		return false, nil
	}
	if now.Sub(s.LastActive()) < r.ttl {
		s.Release()
		r.mu.Unlock()
		return false, nil
	}
	delete(r.sessions, userID)
	r.mu.Unlock()
	defer s.Release()

	// The session is out of the map, so nobody else can reach it; disk and
	// index cleanup happen without the registry lock.
	var firstErr error
	if err := r.store.Purge(userID); err != nil {
		firstErr = fmt.Errorf("purging files for user %d: %w", userID, err)
	}
	if err := r.db.DeleteSession(userID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("deleting session for user %d: %w", userID, err)
	}
	return true, firstErr
}

// expirePersisted collects a session left behind by an earlier process run:
// a persisted row with no live Session. Without this, a user who never
// returns would keep their directory and row forever.
func (r *Registry) expirePersisted(userID int64, now time.Time) (bool, error) {
	rec, err := r.db.FindSession(userID)
	if err != nil {
		return false, WrapE(KindStorage, err, "loading session for user %d", userID)
	}
	if rec == nil || now.Sub(rec.LastActiveAt) < r.ttl {
		return false, nil
	}

	// A racing GetOrCreate may have hydrated the session since the map
	// lookup; leave it to a later sweep rather than pulling files out from
	// under a live session.
	r.mu.Lock()
	_, hydrated := r.sessions[userID]
	r.mu.Unlock()
	if hydrated {
		return false, nil
	}

	var firstErr error
	if err := r.store.Purge(userID); err != nil {
		firstErr = fmt.Errorf("purging files for user %d: %w", userID, err)
	}
	if err := r.db.DeleteSession(userID); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("deleting session for user %d: %w", userID, err)
	}
	return true, firstErr
}

// SweepCandidates returns every user id the reaper should examine: live
// in-memory sessions plus rows persisted by earlier runs. On a database
// error the in-memory ids are still returned so the sweep degrades instead
// of stalling.
func (r *Registry) SweepCandidates() ([]int64, error) {
	ids := r.AllUserIDs()
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}

	recs, err := r.db.ListSessions()
	if err != nil {
		return ids, WrapE(KindStorage, err, "listing persisted sessions")
	}
	for _, rec := range recs {
		if !seen[rec.UserID] {
			seen[rec.UserID] = true
			ids = append(ids, rec.UserID)
		}
	}
	return ids, nil
}

// AllUserIDs returns a snapshot of the registered user ids for the reaper
// to iterate without blocking per-session operations.
func (r *Registry) AllUserIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
