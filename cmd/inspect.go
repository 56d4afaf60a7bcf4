package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ilpatch.dev/pkg/ilpatch/internal/domain"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

var inspectThreadsFlag uint
var inspectInteractiveFlag bool
var inspectOutputFlag string

// inspectCmd represents the inspect command.
var inspectCmd = newInspectCmd()

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the methods of configured targets",
		Long:  inspectLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := loadTargets()
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			ctx := cmd.Context()

			inspections, err := newWorkflow(dependencyDirs(targets)).Inspect(ctx, domain.InspectArgs{
				Targets: targets,
				Threads: viper.GetUint(threadsKey),
			})
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			if inspectOutputFlag != "" {
				if err := reportStore.SaveInspections(m.Path(inspectOutputFlag), inspections); err != nil {
					return fmt.Errorf("save inspections: %w", err)
				}
			}

			if inspectInteractiveFlag {
				return ui.BrowseInspections(ctx, inspections)
			}

			return ui.DisplayInspections(ctx, inspections)
		},
	}

	cmd.Flags().UintVarP(&inspectThreadsFlag, threadsFlagName, "t", viper.GetUint(threadsKey), "number of targets loaded in parallel")
	bindFlagToConfig(cmd.Flags().Lookup(threadsFlagName), threadsKey)
	cmd.Flags().StringVarP(&inspectOutputFlag, outputFlagName, "o", "", "also write the inspections as YAML to this file")
	cmd.Flags().BoolVarP(&inspectInteractiveFlag, interactiveFlagName, "i", false, "browse methods in an interactive table")

	return cmd
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
