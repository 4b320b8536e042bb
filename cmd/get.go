package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/synget/synget/internal/utils"
)

func newGetCmd() *cobra.Command {
	var outputPath string
	var version int

	cmd := &cobra.Command{
		Use:   "get SYN_ID [SYN_ID...] [--output PATH] [--version N]",
		Short: "Download the files of one or more Synapse entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 && version != 0 {
				return errors.New("--version applies to a single entity")
			}
			var jobs []utils.SyngetJob
			for _, id := range args {
				jobs = append(jobs, utils.SyngetJob{
					EntityID:   id,
					Version:    version,
					OutputPath: outputPath,
				})
			}
			return runJobs(cmd.Context(), jobs)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file or directory (defaults to the Synapse file name)")
	cmd.Flags().IntVar(&version, "version", 0, "Entity version (defaults to the latest)")
	return cmd
}
