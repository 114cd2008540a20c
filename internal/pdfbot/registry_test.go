package pdfbot_test

import (
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"pdfbot/internal/pdfbot"
	"pdfbot/internal/testutil"
)

func newTestRegistry(t *testing.T) (*pdfbot.Registry, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return env.reg, env
}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	reg, _ := newTestRegistry(t)

	s1, err := reg.GetOrCreate(7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s2, err := reg.GetOrCreate(7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s1 != s2 {
		t.Error("two lookups for the same user returned different sessions")
	}
	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}
}

func TestGetOrCreateSeparatesUsers(t *testing.T) {
	reg, _ := newTestRegistry(t)

	s1, err := reg.GetOrCreate(1)
	if err != nil {
		t.Fatalf("GetOrCreate(1): %v", err)
	}
	s2, err := reg.GetOrCreate(2)
	if err != nil {
		t.Fatalf("GetOrCreate(2): %v", err)
	}
	if s1 == s2 {
		t.Error("two users share one session")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	const callers = 10
	sessions := make([]*pdfbot.Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.GetOrCreate(7)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("caller %d observed a different session instance", i)
		}
	}
	if reg.Len() != 1 {
		t.Errorf("registry size = %d, want 1", reg.Len())
	}
}

func TestGetOrCreatePersistsSessionRow(t *testing.T) {
	reg, env := newTestRegistry(t)

	if _, err := reg.GetOrCreate(7); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	rec, err := env.db.FindSession(7)
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if rec == nil {
		t.Fatal("no persisted row for the new session")
	}
	if !rec.CreatedAt.Equal(env.clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, env.clock.Now())
	}
}

func TestExpireIfIdle(t *testing.T) {
	reg, env := newTestRegistry(t)

	env.upload(t, 7, "a.pdf", "aa")
	userDir := env.fs.UserDir(7)

	// Not yet idle long enough.
	expired, err := reg.ExpireIfIdle(7, env.clock.Now().Add(testTTL-time.Second))
	if err != nil {
		t.Fatalf("ExpireIfIdle: %v", err)
	}
	if expired {
		t.Fatal("session expired before its TTL")
	}

	expired, err = reg.ExpireIfIdle(7, env.clock.Now().Add(testTTL))
	if err != nil {
		t.Fatalf("ExpireIfIdle: %v", err)
	}
	if !expired {
		t.Fatal("session not expired at its TTL")
	}
	if reg.Len() != 0 {
		t.Errorf("registry size = %d after expiry, want 0", reg.Len())
	}
	if _, err := os.Stat(userDir); !os.IsNotExist(err) {
		t.Error("user directory still present after expiry")
	}
	rec, err := env.db.FindSession(7)
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if rec != nil {
		t.Error("session row still present after expiry")
	}
}

func TestExpireIfIdleSkipsBusySession(t *testing.T) {
	reg, env := newTestRegistry(t)

	env.upload(t, 7, "a.pdf", "aa")
	sess, err := reg.GetOrCreate(7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !sess.TryAcquire() {
		t.Fatal("could not take the operation lock")
	}

	deadline := env.clock.Now().Add(2 * testTTL)
	expired, err := reg.ExpireIfIdle(7, deadline)
	if err != nil {
		t.Fatalf("ExpireIfIdle: %v", err)
	}
	if expired {
		t.Fatal("expired a session whose operation lock was held")
	}

	sess.Release()
	expired, err = reg.ExpireIfIdle(7, deadline)
	if err != nil {
		t.Fatalf("ExpireIfIdle: %v", err)
	}
	if !expired {
		t.Error("session not expired after the lock was released")
	}
}

func TestExpireIfIdleUnknownUser(t *testing.T) {
	reg, env := newTestRegistry(t)

	expired, err := reg.ExpireIfIdle(42, env.clock.Now())
	if err != nil {
		t.Fatalf("ExpireIfIdle: %v", err)
	}
	if expired {
		t.Error("expired a user with no session")
	}
}

func TestRehydrationRestoresFileOrder(t *testing.T) {
	_, env := newTestRegistry(t)

	env.upload(t, 7, "b.pdf", "bb")
	env.upload(t, 7, "a.pdf", "aa")

	reg2 := pdfbot.NewRegistry(env.db, env.fs, env.clock, pdfbot.NewNopLogger(), testTTL)
	sess, err := reg2.GetOrCreate(7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got := filenames(sess.Refs()); !reflect.DeepEqual(got, []string{"b.pdf", "a.pdf"}) {
		t.Errorf("rehydrated order = %v, want [b.pdf a.pdf]", got)
	}
	if sess.TotalSize() != 4 {
		t.Errorf("TotalSize = %d, want 4", sess.TotalSize())
	}
}

func TestStaleRowStartsFreshSession(t *testing.T) {
	_, env := newTestRegistry(t)

	env.upload(t, 7, "old.pdf", "oo")
	userDir := env.fs.UserDir(7)

	// The row outlives the TTL across a restart; the new registry must not
	// resurrect it.
	env.clock.Advance(testTTL + time.Minute)
	reg2 := pdfbot.NewRegistry(env.db, env.fs, env.clock, pdfbot.NewNopLogger(), testTTL)
	sess, err := reg2.GetOrCreate(7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if refs := sess.Refs(); len(refs) != 0 {
		t.Errorf("stale session rehydrated with files: %v", filenames(refs))
	}
	if _, err := os.Stat(userDir); !os.IsNotExist(err) {
		t.Error("stale user directory not purged")
	}
	refs, err := env.db.ListFileRefs(7)
	if err != nil {
		t.Fatalf("ListFileRefs: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("stale file refs not removed: %d rows", len(refs))
	}
}

func TestTouchUpdatesPersistedActivity(t *testing.T) {
	reg, env := newTestRegistry(t)

	if _, err := reg.GetOrCreate(7); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	env.clock.Advance(10 * time.Minute)
	reg.Touch(7)

	rec, err := env.db.FindSession(7)
	if err != nil {
		t.Fatalf("FindSession: %v", err)
	}
	if rec == nil {
		t.Fatal("no persisted row")
	}
	if !rec.LastActiveAt.Equal(env.clock.Now()) {
		t.Errorf("LastActiveAt = %v, want %v", rec.LastActiveAt, env.clock.Now())
	}
}

// Guards against a registry that would hold its lock across store I/O: a
// Purge failure during expiry must still remove the session from the map.
func TestExpireIfIdleReportsCleanupFailure(t *testing.T) {
	env := newTestEnv(t)

	failing := &testutil.PurgeFailStore{FileStore: env.fs, FailUser: 7, Err: os.ErrPermission}
	reg := pdfbot.NewRegistry(env.db, failing, env.clock, pdfbot.NewNopLogger(), testTTL)

	if _, err := reg.GetOrCreate(7); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	expired, err := reg.ExpireIfIdle(7, env.clock.Now().Add(testTTL))
	if !expired {
		t.Fatal("session not removed when cleanup failed")
	}
	if err == nil {
		t.Fatal("cleanup failure not reported")
	}
	if reg.Len() != 0 {
		t.Errorf("registry size = %d, want 0", reg.Len())
	}
}
