package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/api"
	"github.com/jackzampolin/sift/version"
)

// buildInfo is what `sift version` reports.
type buildInfo struct {
	Release string `json:"release"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Release: version.GitRelease,
		Commit:  version.GitCommit,
		Date:    version.GitCommitDate,
		Go:      version.GoInfo,
	}
}

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Long: `Print the release, commit, commit date and Go toolchain this binary was
built with. --short prints the release tag alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := currentBuild()
		if versionShort {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.Release)
			return err
		}
		return api.OutputTo(cmd.OutOrStdout(), api.GetOutputFormat(), info)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the release tag")
}
