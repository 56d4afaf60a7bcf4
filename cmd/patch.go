package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ilpatch.dev/pkg/ilpatch/internal/domain"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

var (
	patchKeepFlag            bool
	patchReportFlag          string
	patchDryRunFlag          bool
	patchDiffFlag            bool
	patchContinueFlag        bool
	patchSkipUnsupportedFlag bool
)

// patchCmd represents the patch command.
var patchCmd = newPatchCmd()

func newPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Rewrite configured methods to return constants",
		Long:  patchLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := loadTargets()
			if err != nil {
				return err
			}

			cmd.SilenceUsage = true
			ctx := cmd.Context()

			report, runErr := newWorkflow(dependencyDirs(targets)).Patch(ctx, domain.PatchArgs{
				Targets:         targets,
				KeepBackup:      viper.GetBool(keepKey),
				DryRun:          patchDryRunFlag,
				Diff:            patchDiffFlag,
				Continue:        viper.GetBool(continueKey),
				SkipUnsupported: viper.GetBool(skipUnsupportedKey),
			})

			if path := viper.GetString(reportKey); path != "" && report != nil {
				if err := reportStore.SaveReport(m.Path(path), report); err != nil {
					return fmt.Errorf("save report: %w", err)
				}
			}

			if err := ui.DisplayReport(ctx, report, runErr); err != nil {
				return err
			}

			return runErr
		},
	}

	configurePatchFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(patchCmd)
}

func configurePatchFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&patchKeepFlag, keepFlagName, "k", viper.GetBool(keepKey), "keep a .bak copy of every patched target")
	bindFlagToConfig(cmd.Flags().Lookup(keepFlagName), keepKey)

	cmd.Flags().StringVarP(&patchReportFlag, reportFlagName, "r", viper.GetString(reportKey), "write the patch report as YAML to this file")
	bindFlagToConfig(cmd.Flags().Lookup(reportFlagName), reportKey)

	cmd.Flags().BoolVar(&patchContinueFlag, continueFlagName, viper.GetBool(continueKey), "move on to the next target when a required target fails")
	bindFlagToConfig(cmd.Flags().Lookup(continueFlagName), continueKey)

	cmd.Flags().BoolVar(&patchSkipUnsupportedFlag, skipUnsupportedFlagName, viper.GetBool(skipUnsupportedKey), "skip methods whose return type cannot hold the rule's value")
	bindFlagToConfig(cmd.Flags().Lookup(skipUnsupportedFlagName), skipUnsupportedKey)

	cmd.Flags().BoolVarP(&patchDryRunFlag, dryRunFlagName, "n", false, "rewrite in memory only, write nothing")
	cmd.Flags().BoolVar(&patchDiffFlag, diffFlagName, false, "show an IL diff of every rewritten body")
}
