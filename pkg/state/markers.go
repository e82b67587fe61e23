package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/go-go-golems/devloop/pkg/engine"
)

// Markers persists start markers keyed by service name. Status readers poll
// markers while an executor may be writing them from another process, so
// every read-modify-write cycle holds an OS file lock.
type Markers struct {
	path string
	lock *flock.Flock
}

var _ engine.MarkerStore = (*Markers)(nil)

func NewMarkers(root string) *Markers {
	path := MarkersPath(root)
	return &Markers{
		path: path,
		lock: flock.New(path + ".flock"),
	}
}

func (m *Markers) Record(name string, marker engine.Marker) error {
	return m.update(func(all map[string]engine.Marker) {
		all[name] = marker
	})
}

func (m *Markers) Clear(name string) error {
	return m.update(func(all map[string]engine.Marker) {
		delete(all, name)
	})
}

func (m *Markers) Get(name string) (engine.Marker, bool, error) {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return engine.Marker{}, false, errors.Wrap(err, "mkdir state dir")
	}
	if err := m.lock.RLock(); err != nil {
		return engine.Marker{}, false, errors.Wrap(err, "lock markers")
	}
	defer func() { _ = m.lock.Unlock() }()

	all, err := m.load()
	if err != nil {
		return engine.Marker{}, false, err
	}
	marker, ok := all[name]
	return marker, ok, nil
}

func (m *Markers) update(mutate func(map[string]engine.Marker)) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	if err := m.lock.Lock(); err != nil {
		return errors.Wrap(err, "lock markers")
	}
	defer func() { _ = m.lock.Unlock() }()

	all, err := m.load()
	if err != nil {
		return err
	}
	mutate(all)
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal markers")
	}
	if err := os.WriteFile(m.path, b, 0o644); err != nil {
		return errors.Wrap(err, "write markers")
	}
	return nil
}

func (m *Markers) load() (map[string]engine.Marker, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]engine.Marker{}, nil
		}
		return nil, errors.Wrap(err, "read markers")
	}
	all := map[string]engine.Marker{}
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, errors.Wrap(err, "parse markers json")
	}
	return all, nil
}
