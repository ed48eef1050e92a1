package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/ignite-health/funnel/cmd/server/cmd.Version=..." at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := [][2]string{
			{"version", Version},
			{"git_commit", GitCommit},
			{"build_date", BuildDate},
			{"go_version", runtime.Version()},
			{"platform", runtime.GOOS + "/" + runtime.GOARCH},
		}
		out := cmd.OutOrStdout()
		if versionJSON {
			m := make(map[string]string, len(info))
			for _, kv := range info {
				m[kv[0]] = kv[1]
			}
			return json.NewEncoder(out).Encode(m)
		}

		fmt.Fprintln(out, "Ignite Health funnel")
		labels := map[string]string{
			"version":    "Version:",
			"git_commit": "Git commit:",
			"build_date": "Build date:",
			"go_version": "Go version:",
			"platform":   "Platform:",
		}
		for _, kv := range info {
			fmt.Fprintf(out, "%-11s %s\n", labels[kv[0]], kv[1])
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
}
