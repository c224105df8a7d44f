package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/uplinkhq/uplink/internal/client/uploader"
	"github.com/uplinkhq/uplink/internal/utils"
)

func init() {
	rootCmd.AddCommand(newUploadCmd())
}

func newUploadCmd() *cobra.Command {
	var mimeType string
	var chunkSize string
	var concurrency int
	var resumeDir string

	uploadCmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files, resuming where a previous run left off",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			client, err := newSDKClient()
			if err != nil {
				return err
			}

			var chunkBytes int64
			if chunkSize != "" {
				parsed, err := humanize.ParseBytes(chunkSize)
				if err != nil {
					return fmt.Errorf("parse chunk size: %w", err)
				}
				chunkBytes = int64(parsed)
			}

			up, err := uploader.New(client, uploader.Config{
				Concurrency:    concurrency,
				ChunkSizeBytes: chunkBytes,
				RecordDir:      resumeDir,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, arg := range args {
				filePath, err := utils.ResolvePath(arg)
				if err != nil {
					return err
				}

				result, err := up.Upload(cmd.Context(), &uploader.UploadRequest{
					FilePath: filePath,
					OwnerID:  ownerID(),
					MimeType: mimeType,
					Progress: func(uploaded, total int) {
						fmt.Fprintf(out, "\r%s %d/%d chunks", lightGray.Render("uploading"), uploaded, total)
					},
				})
				fmt.Fprintln(out)
				if err != nil {
					return fmt.Errorf("%s: %w", arg, err)
				}

				if result.Resumed {
					fmt.Fprintln(out, gray.Render("resumed earlier session "+result.SessionID))
				}
				fmt.Fprintln(out, green.Render("uploaded"), result.FinalObjectKey)
				if result.FinalObjectURL != "" {
					fmt.Fprintln(out, gray.Render(result.FinalObjectURL))
				}
			}
			return nil
		},
	}

	uploadCmd.Flags().SortFlags = false
	uploadCmd.Flags().StringVarP(&mimeType, "mime", "m", "", "MIME type of the file")
	uploadCmd.Flags().StringVar(&chunkSize, "chunk-size", "", "Chunk size, e.g. 5MiB")
	uploadCmd.Flags().IntVarP(&concurrency, "concurrency", "k", uploader.DefaultConcurrency, "Parallel chunk sends")
	uploadCmd.Flags().StringVar(&resumeDir, "resume-dir", "", "Directory for resume records")
	return uploadCmd
}
