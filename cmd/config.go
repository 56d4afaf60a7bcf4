package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"ilpatch.dev/pkg/ilpatch/internal/domain"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

const (
	configVersionKey     = "version"
	currentConfigVersion = 1

	configBaseName   = "ilpatch"
	configFileName   = configBaseName + ".yaml"
	configFolderPath = "."

	configFlagName          = "config"
	dirFlagName             = "dir"
	noColorFlagName         = "no-color"
	keepFlagName            = "keep"
	verboseFlagName         = "verbose"
	reportFlagName          = "report"
	dryRunFlagName          = "dry-run"
	diffFlagName            = "diff"
	continueFlagName        = "continue"
	skipUnsupportedFlagName = "skip-unsupported"
	depsFlagName            = "deps"
	threadsFlagName         = "threads"
	interactiveFlagName     = "interactive"
	outputFlagName          = "output"

	targetsKey         = "targets"
	dirKey             = "dir"
	noColorKey         = "no_color"
	keepKey            = "patch.keep_backup"
	reportKey          = "patch.report"
	continueKey        = "patch.continue"
	skipUnsupportedKey = "patch.skip_unsupported"
	depsKey            = "resolve.dirs"
	threadsKey         = "inspect.threads"

	defaultDir     = "."
	defaultKeep    = false
	defaultThreads = 4

	envPrefix = "ILPATCH"

	logFilenameKey   = "log.filename"
	logLevelKey      = "log.level"
	logVerboseKey    = "log.verbose"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogFilename   = ".ilpatch.log"
	defaultLogLevel      = int(slog.LevelInfo)
	defaultLogVerbose    = false
	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

var globalLogger *slog.Logger

func init() {
	initConfig()
}

// initConfig points viper at ./ilpatch.yaml and the ILPATCH_ environment and
// reads the file when it exists.
func initConfig() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.SetConfigFile(filepath.Join(configFolderPath, configFileName))
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Debug("config not loaded", "error", err)
		}
	}
}

func setDefaults() {
	viper.SetDefault(configVersionKey, currentConfigVersion)
	viper.SetDefault(dirKey, defaultDir)
	viper.SetDefault(noColorKey, false)
	viper.SetDefault(keepKey, defaultKeep)
	viper.SetDefault(reportKey, "")
	viper.SetDefault(continueKey, false)
	viper.SetDefault(skipUnsupportedKey, false)
	viper.SetDefault(depsKey, []string{})
	viper.SetDefault(threadsKey, defaultThreads)
	viper.SetDefault(targetsKey, []m.TargetSpec{})

	// Logging defaults (used by config/env and as fallbacks for flags).
	viper.SetDefault(logFilenameKey, defaultLogFilename)
	viper.SetDefault(logLevelKey, defaultLogLevel)
	viper.SetDefault(logVerboseKey, defaultLogVerbose)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)
}

// readConfigFile replaces the configuration with the file at path.
func readConfigFile(path string) error {
	viper.SetConfigFile(path)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	return nil
}

// loadTargets compiles the configured targets. Relative target paths are
// resolved against the --dir base directory.
func loadTargets() ([]m.Target, error) {
	var specs []m.TargetSpec
	if err := viper.UnmarshalKey(targetsKey, &specs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", targetsKey, err)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no targets configured", domain.ErrInvalidRule)
	}

	return domain.BuildTargets(specs, viper.GetString(dirKey))
}

// dependencyDirs lists the directories searched for referenced assemblies:
// the configured ones first, then the directory of every target.
func dependencyDirs(targets []m.Target) []m.Path {
	seen := map[m.Path]bool{}

	var dirs []m.Path

	add := func(dir m.Path) {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, dir := range viper.GetStringSlice(depsKey) {
		add(m.Path(dir))
	}

	for _, target := range targets {
		add(m.Path(filepath.Dir(string(target.Path))))
	}

	return dirs
}

func parseSlogLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// configureLogger configures the global slog logger.
//
// By default it logs at Info; if verbose is true it logs at Debug.
func configureLogger(logPath string, verbose bool) {
	if strings.TrimSpace(logPath) == "" {
		logPath = viper.GetString(logFilenameKey)
	}

	if strings.TrimSpace(logPath) == "" {
		logPath = defaultLogFilename
	}

	var logLevel slog.Level
	if verbose {
		logLevel = slog.LevelDebug
	} else {
		logLevel = parseSlogLevel(viper.GetString(logLevelKey), slog.LevelInfo)
	}

	logWriter := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    viper.GetInt(logMaxSizeKey),
		MaxBackups: viper.GetInt(logMaxBackupsKey),
		MaxAge:     viper.GetInt(logMaxAgeKey),
		Compress:   viper.GetBool(logCompressKey),
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	})

	globalLogger = slog.New(handler)
	slog.SetDefault(globalLogger)
}
