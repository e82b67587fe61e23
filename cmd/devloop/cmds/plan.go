package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/devloop/pkg/engine"
	"github.com/go-go-golems/devloop/pkg/orchestrator"
)

func newPlanCmd() *cobra.Command {
	var op string

	cmd := &cobra.Command{
		Use:   "plan [service...]",
		Short: "Compute the dependency-ordered action plan without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			var operation engine.Operation
			switch op {
			case "start":
				operation = engine.OpStart
			case "stop":
				operation = engine.OpStop
			case "restart":
				operation = engine.OpRestart
			default:
				return errors.Errorf("unknown --op %q (want start, stop or restart)", op)
			}

			orch, err := orchestrator.Load(orchestrator.Options{
				Root:       opts.RepoRoot,
				ConfigPath: opts.Config,
			})
			if err != nil {
				return err
			}

			plan, err := orch.Plan(cmd.Context(), operation, args, opts.Profile)
			if err != nil {
				if errors.Is(err, engine.ErrNoMatchingService) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no matching service; nothing would change")
					return nil
				}
				return err
			}

			b, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal plan")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().StringVar(&op, "op", "start", "Operation to plan: start, stop or restart")
	return cmd
}
