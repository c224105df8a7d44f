package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/uplinkhq/uplink/internal/sdk"
)

func init() {
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newSessionActionCmd("pause", "Pause an active upload session"))
	rootCmd.AddCommand(newSessionActionCmd("resume", "Resume a paused upload session"))
	rootCmd.AddCommand(newCancelCmd())
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List upload sessions for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			owner := ownerID()
			if owner == "" {
				return fmt.Errorf("an owner id is required, pass --owner")
			}

			client, err := newSDKClient()
			if err != nil {
				return err
			}

			sessions, err := client.Uploads.ListSessions(cmd.Context(), owner)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, gray.Render("no sessions"))
				return nil
			}
			for _, s := range sessions {
				printSession(out, s)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show one session, including assembly progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			client, err := newSDKClient()
			if err != nil {
				return err
			}

			session, err := client.Uploads.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSession(out, session)
			fmt.Fprintf(out, "  received %d/%d chunks\n", len(session.ReceivedChunks), session.TotalChunks)

			switch session.Status {
			case sdk.StatusFinalizing, sdk.StatusCompleted, sdk.StatusFailed:
				fin, err := client.Uploads.GetFinalizeStatus(cmd.Context(), session.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  assembly %s, %d/%d chunks\n", fin.Phase, fin.Progress, fin.TotalChunks)
				if fin.Reason != "" {
					fmt.Fprintln(out, " ", red.Render(fin.Reason))
				}
				if fin.FinalURL != "" {
					fmt.Fprintln(out, " ", gray.Render(fin.FinalURL))
				}
			}
			return nil
		},
	}
}

func newSessionActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			client, err := newSDKClient()
			if err != nil {
				return err
			}

			var session *sdk.Session
			if action == "pause" {
				session, err = client.Uploads.Pause(cmd.Context(), args[0])
			} else {
				session, err = client.Uploads.Resume(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			printSession(cmd.OutOrStdout(), session)
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session and discard its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			client, err := newSDKClient()
			if err != nil {
				return err
			}

			if err := client.Uploads.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), red.Render("cancelled"), args[0])
			return nil
		},
	}
}

func printSession(out io.Writer, s *sdk.Session) {
	fmt.Fprintf(out, "%s  %s  %s  %s\n",
		cyan.Render(s.ID),
		s.Filename,
		humanize.IBytes(uint64(s.FileSizeBytes)),
		renderStatus(s.Status),
	)
}
