package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedOutput string
		expectError    bool
	}{
		{name: "help flag", args: []string{"--help"}, expectedOutput: "Ignite Health lead-capture backend"},
		{name: "short help flag", args: []string{"-h"}, expectedOutput: "Ignite Health lead-capture backend"},
		{name: "invalid flag", args: []string{"--invalid-flag"}, expectedOutput: "unknown flag: --invalid-flag", expectError: true},
		{name: "segments help", args: []string{"segments", "--help"}, expectedOutput: "preview"},
		{name: "migrate help", args: []string{"migrate", "down", "--help"}, expectedOutput: "--steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeRoot(t, tt.args...)
			if tt.expectError {
				assert.ErrorContains(t, err, tt.expectedOutput)
				return
			}
			assert.NoError(t, err)
			assert.Contains(t, output, tt.expectedOutput)
		})
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	for _, flag := range []string{"config", "log-level", "log-format"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), "persistent flag %q", flag)
	}
}

func TestRootCommandSubcommands(t *testing.T) {
	registered := map[string]*cobra.Command{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = c
	}
	for _, name := range []string{"serve", "migrate", "segments", "retention", "healthcheck", "version"} {
		assert.Contains(t, registered, name)
	}
}

func TestLoadConfig_FileAndFlags(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SERVER_PORT", "")
	path := filepath.Join(t.TempDir(), "funnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("SERVER_PORT: \"9191\"\n"), 0o600))

	origPath, origLevel := configPath, logLevel
	t.Cleanup(func() { configPath, logLevel = origPath, origLevel })
	configPath = path
	logLevel = "debug"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMigrateRequiresDatabase(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_URL", "")

	_, err := executeRoot(t, "migrate", "up")
	assert.ErrorIs(t, err, errNoDatabase)

	_, err = executeRoot(t, "retention", "run")
	assert.ErrorIs(t, err, errNoDatabase)
}
