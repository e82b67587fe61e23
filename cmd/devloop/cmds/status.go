package cmds

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/devloop/pkg/orchestrator"
	"github.com/go-go-golems/devloop/pkg/status"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	var tailLines int

	cmd := &cobra.Command{
		Use:   "status [service...]",
		Short: "Show health-check-aware status of configured services",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			orch, err := orchestrator.Load(orchestrator.Options{
				Root:       opts.RepoRoot,
				ConfigPath: opts.Config,
			})
			if err != nil {
				return err
			}

			rows, err := orch.Status(cmd.Context(), args, opts.Profile)
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(map[string]any{"services": rows}, "", "  ")
				if err != nil {
					return errors.Wrap(err, "marshal status")
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"SERVICE", "KIND", "STATE", "ENABLED", "PID", "MEM(MB)"})
			for _, row := range rows {
				pid := ""
				if row.PID > 0 {
					pid = strconv.Itoa(row.PID)
				}
				mem := ""
				if row.Stats != nil {
					mem = strconv.FormatInt(row.Stats.MemoryMB, 10)
				}
				t.AppendRow(table.Row{
					row.Name,
					string(row.Kind),
					colorState(row.State),
					row.Enabled,
					pid,
					mem,
				})
			}
			t.Render()

			if tailLines > 0 {
				for _, row := range rows {
					if row.State != status.StateDown {
						continue
					}
					lines, err := orch.StderrTail(row.Name, tailLines)
					if err != nil || len(lines) == 0 {
						continue
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%s stderr tail:\n", row.Name)
					for _, l := range lines {
						_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", l)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	cmd.Flags().IntVar(&tailLines, "tail-lines", 0, "Show this many stderr lines for down services")
	return cmd
}

func colorState(s status.State) string {
	switch s {
	case status.StateUp:
		return text.FgGreen.Sprint(s)
	case status.StatePending:
		return text.FgYellow.Sprint(s)
	default:
		return text.FgRed.Sprint(s)
	}
}
