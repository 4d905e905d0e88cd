package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgvault/tgvault/internal/archive"
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Label channels for filtered search",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var tagsSetFlags struct {
	source string
}

var tagsSetCmd = &cobra.Command{
	Use:   "set <channel-id> [tag...]",
	Short: "Replace a channel's tags (no tags = clear)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTagsSet,
}

var tagsListCmd = &cobra.Command{
	Use:   "list <channel-id>",
	Short: "Show a channel's tags across all sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runTagsList,
}

var tagsChannelsFlags struct {
	source string
}

var tagsChannelsCmd = &cobra.Command{
	Use:   "channels <tag> [tag...]",
	Short: "List channels carrying any of the given tags",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTagsChannels,
}

var tagsAutoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Re-classify every channel from its profile text",
	Long: `Runs the rule-based classifier over each channel's title, username and
cached about text, replacing the auto-sourced tag partition. Manually set
tags are never touched.`,
	RunE: runTagsAuto,
}

func init() {
	tagsSetCmd.Flags().StringVar(&tagsSetFlags.source, "source", "manual", "tag partition to write")
	tagsChannelsCmd.Flags().StringVar(&tagsChannelsFlags.source, "source", "", "tag partition to match; empty = any")

	tagsCmd.AddCommand(tagsSetCmd)
	tagsCmd.AddCommand(tagsListCmd)
	tagsCmd.AddCommand(tagsChannelsCmd)
	tagsCmd.AddCommand(tagsAutoCmd)
}

func runTagsSet(cmd *cobra.Command, args []string) error {
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id %q", args[0])
	}
	tags := args[1:]

	return withService(false, func(_ string, svc *archive.Service) error {
		if err := svc.SetChannelTags(channelID, tagsSetFlags.source, tags); err != nil {
			return err
		}
		if len(tags) == 0 {
			fmt.Printf("cleared %s tags for channel %d\n", tagsSetFlags.source, channelID)
		} else {
			fmt.Printf("channel %d tagged: %s\n", channelID, strings.Join(tags, ", "))
		}
		return nil
	})
}

func runTagsList(cmd *cobra.Command, args []string) error {
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id %q", args[0])
	}

	return withService(true, func(_ string, svc *archive.Service) error {
		tags, err := svc.ListChannelTags(channelID)
		if err != nil {
			return err
		}
		if len(tags) == 0 {
			fmt.Println("no tags")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TAG\tSOURCE\tCONFIDENCE")
		for _, t := range tags {
			fmt.Fprintf(w, "%s\t%s\t%.2f\n", t.Tag, t.Source, t.Confidence)
		}
		return w.Flush()
	})
}

func runTagsChannels(cmd *cobra.Command, args []string) error {
	return withService(true, func(_ string, svc *archive.Service) error {
		channels, err := svc.ListTaggedChannels(args, tagsChannelsFlags.source)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			fmt.Println("no channels")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tTITLE\tTAGS")
		for _, c := range channels {
			names := make([]string, 0, len(c.Tags))
			for _, t := range c.Tags {
				names = append(names, t.Tag)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", c.ChannelID, c.Title, strings.Join(names, ", "))
		}
		return w.Flush()
	})
}

func runTagsAuto(cmd *cobra.Command, args []string) error {
	return withService(false, func(_ string, svc *archive.Service) error {
		n, err := svc.AutoTagChannels(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d channel(s) tagged\n", n)
		return nil
	})
}
