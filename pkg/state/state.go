// Package state persists devloop's per-project runtime records under the
// project's .devloop directory: which native services were started (and
// where their logs live), plus start markers bridging the gap between a
// start request and backend visibility.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName    = ".devloop"
	RecordsFilename = "records.json"
	MarkersFilename = "markers.json"
	LogsDirName     = "logs"
)

// ServiceRecord is the persisted trace of one started native service. It is
// the process backend's source of truth across invocations.
type ServiceRecord struct {
	Name      string            `json:"name"`
	PID       int               `json:"pid"`
	Command   []string          `json:"command"`
	Cwd       string            `json:"cwd"`
	Env       map[string]string `json:"env,omitempty"`
	StdoutLog string            `json:"stdout_log"`
	StderrLog string            `json:"stderr_log"`
	StartedAt time.Time         `json:"started_at"`
}

func Dir(root string) string {
	return filepath.Join(root, StateDirName)
}

func RecordsPath(root string) string {
	return filepath.Join(root, StateDirName, RecordsFilename)
}

func MarkersPath(root string) string {
	return filepath.Join(root, StateDirName, MarkersFilename)
}

func LogsDir(root string) string {
	return filepath.Join(root, StateDirName, LogsDirName)
}

// Store reads and writes service records for one project root. Reads and
// writes within a process are serialized by a mutex; cross-process callers
// hold the project lock while mutating.
type Store struct {
	Root string

	mu sync.Mutex
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) Get(name string) (ServiceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return ServiceRecord{}, false, err
	}
	rec, ok := recs[name]
	return rec, ok, nil
}

func (s *Store) Put(rec ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return err
	}
	recs[rec.Name] = rec
	return s.save(recs)
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return err
	}
	delete(recs, name)
	return s.save(recs)
}

// All returns every record, sorted by name.
func (s *Store) All() ([]ServiceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(recs))
	for name := range recs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ServiceRecord, 0, len(recs))
	for _, name := range names {
		out = append(out, recs[name])
	}
	return out, nil
}

func (s *Store) load() (map[string]ServiceRecord, error) {
	b, err := os.ReadFile(RecordsPath(s.Root))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ServiceRecord{}, nil
		}
		return nil, errors.Wrap(err, "read records")
	}
	recs := map[string]ServiceRecord{}
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, errors.Wrap(err, "parse records json")
	}
	return recs, nil
}

// save replaces the records file via rename, so lock-free status readers
// never observe a torn write.
func (s *Store) save(recs map[string]ServiceRecord) error {
	if err := os.MkdirAll(Dir(s.Root), 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal records")
	}
	path := RecordsPath(s.Root)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "write records")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "replace records")
	}
	return nil
}
