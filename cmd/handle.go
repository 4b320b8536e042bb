package cmd

import (
	"github.com/spf13/cobra"

	"github.com/synget/synget/internal/utils"
)

func newHandleCmd() *cobra.Command {
	var outputPath, objectID, objectType string

	cmd := &cobra.Command{
		Use:   "handle FILE_HANDLE_ID --object ID [--object-type TYPE] [--output PATH]",
		Short: "Download a file handle through the object it is attached to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := utils.SyngetJob{
				EntityID:     objectID,
				FileHandleID: args[0],
				ObjectType:   utils.ObjectType(objectType),
				OutputPath:   outputPath,
			}
			return runJobs(cmd.Context(), []utils.SyngetJob{job})
		},
	}

	cmd.Flags().StringVar(&objectID, "object", "", "Id of the object the file handle belongs to")
	cmd.Flags().StringVar(&objectType, "object-type", string(utils.ObjectTypeFileEntity), "Association type (FileEntity, TableEntity, WikiAttachment, ...)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file or directory")
	cmd.MarkFlagRequired("object")
	return cmd
}
