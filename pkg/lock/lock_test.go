package lock

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("{not json"), 0o644)
}

func newTestManager(t *testing.T, pid int, alive map[int]bool) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), func(p int) bool { return alive[p] })
	m.PID = pid
	return m
}

func TestAcquire_FreshLock(t *testing.T) {
	alive := map[int]bool{100: true}
	m := newTestManager(t, 100, alive)

	require.NoError(t, m.Acquire("proj", "/work/a"))

	rec, ok, err := m.Holder("proj")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 100, rec.PID)
	require.Equal(t, "/work/a", rec.ProjectRoot)
}

func TestAcquire_ContentionFromOtherRoot(t *testing.T) {
	alive := map[int]bool{100: true, 200: true}
	first := newTestManager(t, 100, alive)
	require.NoError(t, first.Acquire("proj", "/work/a"))

	second := NewManager(first.Dir, func(p int) bool { return alive[p] })
	second.PID = 200

	err := second.Acquire("proj", "/work/b")
	var contention *ContentionError
	require.ErrorAs(t, err, &contention)
	require.Equal(t, 100, contention.Holder.PID)
	require.Equal(t, "/work/a", contention.Holder.ProjectRoot)
}

func TestAcquire_TakesOverStaleLock(t *testing.T) {
	alive := map[int]bool{100: false, 200: true}
	first := newTestManager(t, 100, alive)
	require.NoError(t, first.Acquire("proj", "/work/a"))

	second := NewManager(first.Dir, func(p int) bool { return alive[p] })
	second.PID = 200
	require.NoError(t, second.Acquire("proj", "/work/b"))

	rec, ok, err := second.Holder("proj")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 200, rec.PID)
	require.Equal(t, "/work/b", rec.ProjectRoot)
}

func TestAcquire_SameRootReentry(t *testing.T) {
	alive := map[int]bool{100: true}
	m := newTestManager(t, 100, alive)

	require.NoError(t, m.Acquire("proj", "/work/a"))
	require.NoError(t, m.Acquire("proj", "/work/a"))
}

func TestRelease_OnlyOwnLock(t *testing.T) {
	alive := map[int]bool{100: true, 200: true}
	first := newTestManager(t, 100, alive)
	require.NoError(t, first.Acquire("proj", "/work/a"))

	second := NewManager(first.Dir, func(p int) bool { return alive[p] })
	second.PID = 200
	require.NoError(t, second.Release("proj"), "releasing someone else's lock is a no-op")

	rec, ok, err := first.Holder("proj")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 100, rec.PID)

	require.NoError(t, first.Release("proj"))
	_, ok, err = first.Holder("proj")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRelease_NoLockIsNoop(t *testing.T) {
	m := newTestManager(t, 100, map[int]bool{})
	require.NoError(t, m.Release("proj"))
}

func TestRecord_HeldSince(t *testing.T) {
	alive := map[int]bool{100: true}
	m := newTestManager(t, 100, alive)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	m.Now = func() time.Time { return now }

	require.NoError(t, m.Acquire("proj", "/work/a"))
	rec, _, err := m.Holder("proj")
	require.NoError(t, err)

	since, err := rec.HeldSince()
	require.NoError(t, err)
	require.True(t, since.Equal(now))
}

func TestContentionError_RendersHeldSince(t *testing.T) {
	// Records written by older builds used looser timestamp layouts; the
	// contention message still shows a parsed time, not the raw string.
	err := &ContentionError{
		Project: "proj",
		Holder:  Record{ProjectRoot: "/work/a", PID: 100, Timestamp: "2026-03-14 09:30:00 +0000 UTC"},
	}
	require.Contains(t, err.Error(), "2026-03-14T09:30:00")
	require.Contains(t, err.Error(), "pid 100")

	// An unparseable timestamp falls back to the raw record value.
	garbage := &ContentionError{
		Project: "proj",
		Holder:  Record{ProjectRoot: "/work/a", PID: 100, Timestamp: "whenever"},
	}
	require.Contains(t, garbage.Error(), "whenever")
}

func TestAcquire_CorruptLockTreatedAsStale(t *testing.T) {
	alive := map[int]bool{100: true}
	m := newTestManager(t, 100, alive)
	require.NoError(t, m.Acquire("proj", "/work/a"))

	// Scribble over the record; the next acquire must recover.
	require.NoError(t, writeGarbage(m.path("proj")))
	require.NoError(t, m.Acquire("proj", "/work/a"))
}
