package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/devloop/pkg/engine"
)

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [service...]",
		Short: "Stop services, dependents first (only what is actually running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, engine.OpStop, args)
		},
	}
}
