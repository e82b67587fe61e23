package cmds

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/devloop/pkg/engine"
)

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart [service...]",
		Short: "Stop then start services (bounces only what is currently running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, engine.OpRestart, args)
		},
	}
}
