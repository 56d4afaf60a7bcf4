package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestConfigConstants(t *testing.T) {
	assert.Equal(t, "ilpatch", configBaseName)
	assert.Equal(t, "ilpatch.yaml", configFileName)
	assert.Equal(t, ".", configFolderPath)
	assert.Equal(t, "keep", keepFlagName)
	assert.Equal(t, "dry-run", dryRunFlagName)
	assert.Equal(t, "skip-unsupported", skipUnsupportedFlagName)
	assert.Equal(t, "patch.keep_backup", keepKey)
	assert.Equal(t, "resolve.dirs", depsKey)
	assert.Equal(t, "inspect.threads", threadsKey)
	assert.Equal(t, 4, defaultThreads)
	assert.Equal(t, ".ilpatch.log", defaultLogFilename)
	assert.Equal(t, "ILPATCH", envPrefix)
}

func TestConfigVersionConstants(t *testing.T) {
	assert.Equal(t, "version", configVersionKey)
	assert.Equal(t, 1, currentConfigVersion)
}

func TestConfigDefaults(t *testing.T) {
	resetConfig(t)

	assert.Equal(t, ".", viper.GetString(dirKey))
	assert.False(t, viper.GetBool(keepKey))
	assert.False(t, viper.GetBool(continueKey))
	assert.Equal(t, uint(defaultThreads), viper.GetUint(threadsKey))
	assert.Empty(t, viper.GetStringSlice(depsKey))
}

func TestConfigEnvironment(t *testing.T) {
	resetConfig(t)
	t.Setenv("ILPATCH_PATCH_KEEP_BACKUP", "true")
	t.Setenv("ILPATCH_INSPECT_THREADS", "9")

	assert.True(t, viper.GetBool(keepKey))
	assert.Equal(t, uint(9), viper.GetUint(threadsKey))
}
