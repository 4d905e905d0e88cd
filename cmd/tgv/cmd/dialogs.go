package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgvault/tgvault/internal/archive"
)

var dialogsCmd = &cobra.Command{
	Use:   "dialogs",
	Short: "List and sync the channel identity table",
	RunE:  runDialogsList,
}

var dialogsListFlags struct {
	syncOnly bool
	limit    int
}

var dialogsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the channel list from the remote dialog listing",
	RunE:  runDialogsSync,
}

var dialogsEnableCmd = &cobra.Command{
	Use:   "enable <channel-id>",
	Short: "Opt a channel into live archiving",
	Args:  cobra.ExactArgs(1),
	RunE:  makeSyncToggle(true),
}

var dialogsDisableCmd = &cobra.Command{
	Use:   "disable <channel-id>",
	Short: "Opt a channel out of live archiving",
	Args:  cobra.ExactArgs(1),
	RunE:  makeSyncToggle(false),
}

func init() {
	dialogsCmd.Flags().BoolVar(&dialogsListFlags.syncOnly, "sync-only", false, "only channels with archiving enabled")
	dialogsCmd.Flags().IntVar(&dialogsListFlags.limit, "limit", 100, "maximum channels")

	dialogsCmd.AddCommand(dialogsSyncCmd)
	dialogsCmd.AddCommand(dialogsEnableCmd)
	dialogsCmd.AddCommand(dialogsDisableCmd)
}

func runDialogsList(cmd *cobra.Command, args []string) error {
	return withService(true, func(_ string, svc *archive.Service) error {
		channels, err := svc.ListChannels(dialogsListFlags.syncOnly, dialogsListFlags.limit)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			fmt.Println("no channels; run: tgv dialogs sync")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tTYPE\tTITLE\tUSERNAME\tSYNC\tNEWEST")
		for _, c := range channels {
			sync := "-"
			if c.SyncEnabled {
				sync = "on"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				c.ChannelID, c.PeerType, c.Title, c.Username, sync, formatDate(c.NewestMsgDate))
		}
		return w.Flush()
	})
}

func runDialogsSync(cmd *cobra.Command, args []string) error {
	return withConnectedService(func(_ string, svc *archive.Service) error {
		n, err := svc.SyncDialogs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d dialog(s) synced\n", n)
		return nil
	})
}

func makeSyncToggle(enabled bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		channelID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid channel id %q", args[0])
		}
		return withService(false, func(_ string, svc *archive.Service) error {
			if err := svc.SetSyncEnabled(channelID, enabled); err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			fmt.Printf("archiving %s for channel %d\n", state, channelID)
			return nil
		})
	}
}
