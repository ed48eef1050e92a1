package cmd

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origGitCommit, origBuildDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = origVersion, origGitCommit, origBuildDate })

	Version = "1.4.0"
	GitCommit = "abc123"
	BuildDate = "2026-03-02T12:00:00Z"

	output, err := executeRoot(t, "version")
	require.NoError(t, err)

	for _, expected := range []string{
		"Ignite Health funnel",
		"Version:    1.4.0",
		"Git commit: abc123",
		"Build date: 2026-03-02T12:00:00Z",
		"Go version:",
		"Platform:",
	} {
		assert.Contains(t, output, expected)
	}
}

func TestVersionCommandDefaultValues(t *testing.T) {
	output, err := executeRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "Version:    "+Version)
	assert.Contains(t, output, "Git commit: "+GitCommit)
}

func TestVersionCommandJSON(t *testing.T) {
	t.Cleanup(func() { versionJSON = false })

	output, err := executeRoot(t, "version", "--json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(output), &info))
	assert.Equal(t, Version, info["version"])
	assert.Equal(t, runtime.Version(), info["go_version"])
	assert.Contains(t, info, "platform")
}
