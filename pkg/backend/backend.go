// Package backend implements the per-kind service backends: native OS
// processes and docker containers. The planner and executor stay
// kind-agnostic by dispatching through the registry built here.
package backend

import (
	"time"

	"github.com/go-go-golems/devloop/pkg/engine"
	"github.com/go-go-golems/devloop/pkg/state"
)

// Options configures the backend registry for one project.
type Options struct {
	Root            string
	Project         string
	ShutdownTimeout time.Duration
}

// NewRegistry builds the kind-to-backend lookup table.
func NewRegistry(opts Options, store *state.Store) map[engine.Kind]engine.Backend {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 3 * time.Second
	}
	return map[engine.Kind]engine.Backend{
		engine.KindNative: &ProcessBackend{
			Root:            opts.Root,
			Store:           store,
			ShutdownTimeout: opts.ShutdownTimeout,
		},
		engine.KindContainer: NewDockerBackend(opts.Project),
	}
}
