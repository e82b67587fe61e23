// Package lock provides per-project mutual exclusion across devloop
// invocations, backed by a PID-stamped record file. Only one live process
// may mutate a project's services at a time.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Record is the persisted lock for one project.
type Record struct {
	ProjectRoot string `json:"project_root"`
	PID         int    `json:"pid"`
	Timestamp   string `json:"timestamp"`
}

// HeldSince parses the record timestamp. Records written by older builds
// used looser layouts, so parsing is tolerant.
func (r Record) HeldSince() (time.Time, error) {
	return dateparse.ParseAny(r.Timestamp)
}

// ContentionError reports that another live invocation, rooted elsewhere,
// holds the project lock.
type ContentionError struct {
	Project string
	Holder  Record
}

func (e *ContentionError) Error() string {
	held := e.Holder.Timestamp
	if t, err := e.Holder.HeldSince(); err == nil {
		held = fmt.Sprintf("%s, %s ago", t.Format(time.RFC3339), time.Since(t).Round(time.Second))
	}
	return fmt.Sprintf("project %q locked by pid %d (root %s, held since %s)",
		e.Project, e.Holder.PID, e.Holder.ProjectRoot, held)
}

// Manager acquires and releases project locks under Dir.
//
// Liveness is a best-effort signal-0 probe. A false "dead" in the narrow
// window of PID reuse would let a lock be taken over while its holder runs;
// the timestamp narrows but does not eliminate that window.
type Manager struct {
	Dir     string
	PID     int
	IsAlive func(pid int) bool
	Now     func() time.Time
}

func NewManager(dir string, isAlive func(int) bool) *Manager {
	return &Manager{
		Dir:     dir,
		PID:     os.Getpid(),
		IsAlive: isAlive,
		Now:     time.Now,
	}
}

// DefaultDir returns the shared lock directory: the user cache dir when
// available, the system temp dir otherwise.
func DefaultDir() string {
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "devloop", "locks")
	}
	return filepath.Join(os.TempDir(), "devloop-locks")
}

func (m *Manager) path(project string) string {
	return filepath.Join(m.Dir, project+".lock.json")
}

// Acquire takes the lock for project. A missing record is claimed, a stale
// record (dead PID) is taken over silently, a live record from the same root
// is refreshed, and a live record from another root fails with a
// *ContentionError carrying the holder.
func (m *Manager) Acquire(project, projectRoot string) error {
	existing, ok, err := m.read(project)
	if err != nil {
		return err
	}
	if ok && m.IsAlive(existing.PID) {
		if existing.ProjectRoot != projectRoot {
			return &ContentionError{Project: project, Holder: existing}
		}
		// Same project root, live holder: idempotent re-entry.
	} else if ok {
		log.Debug().Str("project", project).Int("stale_pid", existing.PID).Msg("taking over stale lock")
	}

	rec := Record{
		ProjectRoot: projectRoot,
		PID:         m.PID,
		Timestamp:   m.Now().Format(time.RFC3339),
	}
	return m.write(project, rec)
}

// Release deletes the lock record, but only if this process wrote it. A
// record held by someone else is left untouched.
func (m *Manager) Release(project string) error {
	existing, ok, err := m.read(project)
	if err != nil {
		return err
	}
	if !ok || existing.PID != m.PID {
		return nil
	}
	if err := os.Remove(m.path(project)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove lock")
	}
	return nil
}

// Holder returns the current lock record, if any.
func (m *Manager) Holder(project string) (Record, bool, error) {
	return m.read(project)
}

func (m *Manager) read(project string) (Record, bool, error) {
	b, err := os.ReadFile(m.path(project))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.Wrap(err, "read lock")
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		// A corrupt lock file is treated as stale rather than wedging the
		// project forever.
		log.Warn().Str("project", project).Err(err).Msg("ignoring unreadable lock file")
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (m *Manager) write(project string, rec Record) error {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir lock dir")
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal lock")
	}
	if err := os.WriteFile(m.path(project), b, 0o644); err != nil {
		return errors.Wrap(err, "write lock")
	}
	return nil
}
