// Package cmd provides the root command and CLI setup for ilpatch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ilpatch.dev/pkg/ilpatch/internal/adapter"
	"ilpatch.dev/pkg/ilpatch/internal/controller"
	"ilpatch.dev/pkg/ilpatch/internal/domain"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

var fsAdapter adapter.BinaryFSAdapter
var loader adapter.ModuleLoader
var reportStore adapter.ReportStore
var serializer domain.Serializer
var replacer domain.Replacer
var ui controller.UI

// newWorkflow builds the workflow for one run. Referenced assemblies are
// looked up in depDirs.
var newWorkflow = func(depDirs []m.Path) domain.Workflow {
	return domain.NewWorkflow(fsAdapter, loader, adapter.NewResolver(fsAdapter, depDirs...), serializer, replacer)
}

// configPathFlag names a config file to use instead of ./ilpatch.yaml.
var configPathFlag string

// baseDirFlag is the directory relative target paths are resolved against.
var baseDirFlag string

// noColorFlag disables colored output.
var noColorFlag bool

// verboseFlag switches logging to debug level.
var verboseFlag bool

func init() {
	configureRootFlags(rootCmd)

	// Initialize shared dependencies.
	ui = controller.NewUI(rootCmd, controller.IsTTY(os.Stdout))
	fsAdapter = adapter.NewLocalBinaryFSAdapter()
	loader = adapter.NewLocalModuleLoader(fsAdapter)
	reportStore = adapter.NewYAMLReportStore(fsAdapter)
	serializer = domain.NewSerializer()
	replacer = domain.NewReplacer(fsAdapter)
}

const configHelp = `Targets and rules are read from ilpatch.yaml:

  targets:
    - path: App.dll
      policy: required        # or optional
      rules:
        - type: Acme.App      # or type_contains: App
          methods: [CheckLicense]
          value: true
        - type: Acme.App
          method_suffix: DaysLeft
          kind: int
          value: 99`

const rootLongDescription = `ilpatch rewrites methods of compiled .NET assemblies so that they return a
fixed constant, then writes the assembly back in place.

` + configHelp

const patchLongDescription = `Patch every configured target. Each target is loaded, its rules are applied,
and the rewritten image replaces the file atomically.

` + configHelp

const inspectLongDescription = `List the methods of every configured target with their return kind, body
size and whether a rule selects them. Nothing is written.

` + configHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ilpatch",
		Short: "Constant-return patcher for .NET assemblies",
		Long:  rootLongDescription,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupRun(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&configPathFlag, configFlagName, "c", "", "config file (default ./"+configFileName+")")

	cmd.PersistentFlags().StringVarP(&baseDirFlag, dirFlagName, "d", viper.GetString(dirKey), "base directory for relative target paths")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(dirFlagName), dirKey)

	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(verboseFlagName), logVerboseKey)

	cmd.PersistentFlags().BoolVar(&noColorFlag, noColorFlagName, viper.GetBool(noColorKey), "disable colored output")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(noColorFlagName), noColorKey)

	cmd.PersistentFlags().StringSlice(depsFlagName, viper.GetStringSlice(depsKey), "extra directories searched for referenced assemblies")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(depsFlagName), depsKey)
}

// setupRun loads an explicit config file and configures logging and color.
func setupRun(cmd *cobra.Command) error {
	if configPathFlag != "" {
		if err := readConfigFile(configPathFlag); err != nil {
			return err
		}
	}

	configureLogger(viper.GetString(logFilenameKey), viper.GetBool(logVerboseKey))

	if viper.GetBool(noColorKey) {
		ui = controller.NewSimpleUI(cmd.Root(), false)
	}

	return nil
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
