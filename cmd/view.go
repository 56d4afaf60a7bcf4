package cmd

import (
	"github.com/spf13/cobra"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// viewCmd represents the view command.
var viewCmd = newViewCmd()

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <report.yaml>",
		Short: "Show a saved patch report",
		Long:  "Show a patch report previously written with patch --report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := reportStore.LoadReport(m.Path(args[0]))
			if err != nil {
				return err
			}

			return ui.DisplayReport(cmd.Context(), report, nil)
		},
	}

	return cmd
}

func init() {
	rootCmd.AddCommand(viewCmd)
}
