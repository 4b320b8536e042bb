package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/synget/synget/internal/utils"
)

type BatchEntry struct {
	ID         string `yaml:"id"`
	Version    int    `yaml:"version,omitempty"`
	Handle     string `yaml:"handle,omitempty"`
	Object     string `yaml:"object,omitempty"`
	ObjectType string `yaml:"object_type,omitempty"`
	OutputPath string `yaml:"output,omitempty"`
}

type BatchFile struct {
	Downloads []BatchEntry `yaml:"downloads"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch YAML_FILE",
		Short: "Download every entry of a YAML batch file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			return runJobs(cmd.Context(), jobs)
		},
	}
	return cmd
}

func readBatchFile(path string) ([]utils.SyngetJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading batch file: %v", err)
	}
	var batchFile BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %v", err)
	}
	jobs := buildJobsFromBatch(batchFile)
	if len(jobs) == 0 {
		return nil, errors.New("no valid entries found in the batch file")
	}
	return jobs, nil
}

// buildJobsFromBatch turns entries into jobs. An entry names either an
// entity (id, optional version) or a file handle with its object.
func buildJobsFromBatch(batchFile BatchFile) []utils.SyngetJob {
	var jobs []utils.SyngetJob
	for i, entry := range batchFile.Downloads {
		job := utils.SyngetJob{
			EntityID:   entry.ID,
			Version:    entry.Version,
			OutputPath: entry.OutputPath,
			Metadata:   make(map[string]any),
		}
		if entry.Handle != "" {
			job.FileHandleID = entry.Handle
			job.ObjectType = utils.ObjectType(entry.ObjectType)
			if entry.Object != "" {
				job.EntityID = entry.Object
			}
		}
		if job.EntityID == "" {
			log.Warn().Str("op", "cmd/batch").Msgf("entry %d has no id or object, skipping", i+1)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}
