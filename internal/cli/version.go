package cli

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/lazypower/stepwise/internal/store"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// BuildInfo describes the running binary and the step log schema it writes.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
	Schema  int    `json:"schema"`
}

// Build reports the ldflags values, falling back to the VCS revision Go
// embeds when Commit was not set.
func Build() BuildInfo {
	info := BuildInfo{
		Version: Version,
		Commit:  Commit,
		Built:   BuildDate,
		Schema:  store.LatestSchemaVersion(),
	}
	if info.Commit != "unknown" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				info.Commit = s.Value[:min(len(s.Value), 12)]
			}
		}
	}
	return info
}

// VersionString is the short form served by the health endpoint.
func VersionString() string {
	b := Build()
	return fmt.Sprintf("%s (%s, schema %d)", b.Version, b.Commit, b.Schema)
}

func newVersionCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and step log schema information",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := Build()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stepwise %s (commit: %s, built: %s, schema: %d)\n",
				b.Version, b.Commit, b.Built, b.Schema)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build info as JSON")
	return cmd
}
