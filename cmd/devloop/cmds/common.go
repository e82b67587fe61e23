package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/devloop/pkg/config"
	"github.com/go-go-golems/devloop/pkg/engine"
	"github.com/go-go-golems/devloop/pkg/events"
	"github.com/go-go-golems/devloop/pkg/orchestrator"
)

type rootOptions struct {
	RepoRoot string
	Config   string
	Profile  string
	Timeout  time.Duration
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("repo-root", "", "Project root (defaults to current directory)")
	root.PersistentFlags().String("config", "", "Path to config file (defaults to .devloop.yaml under repo-root)")
	root.PersistentFlags().String("profile", "", "Active profile for service eligibility")
	root.PersistentFlags().Duration("timeout", 60*time.Second, "Overall timeout for one operation")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	repoRoot, err := cmd.Root().PersistentFlags().GetString("repo-root")
	if err != nil {
		return rootOptions{}, err
	}
	if repoRoot == "" {
		repoRoot, err = os.Getwd()
		if err != nil {
			return rootOptions{}, err
		}
	}
	repoRoot, err = filepath.Abs(repoRoot)
	if err != nil {
		return rootOptions{}, err
	}

	cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	if cfgPath == "" {
		cfgPath = config.DefaultPath(repoRoot)
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(repoRoot, cfgPath)
	}

	profile, err := cmd.Root().PersistentFlags().GetString("profile")
	if err != nil {
		return rootOptions{}, err
	}
	timeout, err := cmd.Root().PersistentFlags().GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout <= 0 {
		return rootOptions{}, errors.New("timeout must be > 0")
	}

	return rootOptions{
		RepoRoot: repoRoot,
		Config:   cfgPath,
		Profile:  profile,
		Timeout:  timeout,
	}, nil
}

// runApply executes one mutating operation with progress lines rendered from
// the event bus.
func runApply(cmd *cobra.Command, op engine.Operation, targets []string) error {
	opts, err := getRootOptions(cmd)
	if err != nil {
		return err
	}

	bus, err := events.NewInMemoryBus()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	bus.SubscribeEvents("progress", func(env events.Envelope) {
		renderEvent(out, env.Event)
	})

	// Start blocks until the bus can deliver; anything the executor emits
	// before that would be dropped by the in-memory pubsub.
	busCtx, cancelBus := context.WithCancel(context.Background())
	defer cancelBus()
	if err := bus.Start(busCtx); err != nil {
		return err
	}

	orch, err := orchestrator.Load(orchestrator.Options{
		Root:       opts.RepoRoot,
		ConfigPath: opts.Config,
		Sink:       events.NewBusSink(bus),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	plan, err := orch.Apply(ctx, op, targets, opts.Profile)
	if err != nil {
		return err
	}
	if plan.Empty() {
		_, _ = fmt.Fprintln(out, "nothing to do")
		return nil
	}

	// Publishes block until handled, so every progress line is already out.
	_, _ = fmt.Fprintln(out, "ok")
	return nil
}

func renderEvent(out io.Writer, ev engine.Event) {
	switch ev.Type {
	case engine.EventActionStarted:
		_, _ = fmt.Fprintf(out, "[wave %d] %s %s...\n", ev.Wave, ev.Op, ev.Service)
	case engine.EventActionSucceeded:
		_, _ = fmt.Fprintf(out, "[wave %d] %s %s: done\n", ev.Wave, ev.Op, ev.Service)
	case engine.EventActionFailed:
		_, _ = fmt.Fprintf(out, "[wave %d] %s %s: FAILED: %s\n", ev.Wave, ev.Op, ev.Service, ev.Error)
	}
}
