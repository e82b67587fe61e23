package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/devloop/pkg/engine"
)

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up [service...]",
		Short: "Start services in dependency order (only what is not already up)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, engine.OpStart, args)
		},
	}
}
