package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgvault/tgvault/internal/archive"
	"github.com/tgvault/tgvault/internal/store"
)

var messagesFlags struct {
	before int64
	limit  int
}

var messagesCmd = &cobra.Command{
	Use:   "messages <channel-id>",
	Short: "List archived messages for a channel, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessages,
}

var messageFlags struct {
	context int
}

var messageCmd = &cobra.Command{
	Use:   "message <channel-id> <msg-id>",
	Short: "Show one archived message, optionally with surrounding context",
	Args:  cobra.ExactArgs(2),
	RunE:  runMessage,
}

func init() {
	messagesCmd.Flags().Int64Var(&messagesFlags.before, "before", 0, "only messages with id below this (keyset paging)")
	messagesCmd.Flags().IntVar(&messagesFlags.limit, "limit", 50, "maximum messages")

	messageCmd.Flags().IntVar(&messageFlags.context, "context", 0, "messages of context on each side")
}

func runMessages(cmd *cobra.Command, args []string) error {
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id %q", args[0])
	}

	return withService(true, func(_ string, svc *archive.Service) error {
		msgs, err := svc.ListArchivedMessages(channelID, messagesFlags.before, messagesFlags.limit)
		if err != nil {
			return err
		}
		printMessages(msgs)
		return nil
	})
}

func runMessage(cmd *cobra.Command, args []string) error {
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id %q", args[0])
	}
	msgID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q", args[1])
	}

	return withService(true, func(_ string, svc *archive.Service) error {
		if messageFlags.context > 0 {
			msgs, err := svc.GetArchivedMessageContext(channelID, msgID, messageFlags.context, messageFlags.context)
			if err != nil {
				return err
			}
			printMessages(msgs)
			return nil
		}

		m, err := svc.GetArchivedMessage(channelID, msgID)
		if err != nil {
			return err
		}
		fmt.Printf("channel: %d\nmessage: %d\ndate:    %s\nsender:  %s\n",
			m.ChannelID, m.MsgID, formatDate(m.Date), m.SenderText)
		if m.TopicText != "" {
			fmt.Printf("topic:   %s\n", m.TopicText)
		}
		if m.Media != nil {
			fmt.Printf("media:   %s %s\n", m.Media.Kind, m.Media.FileName)
		}
		for _, l := range m.Links {
			fmt.Printf("link:    %s\n", l.URL)
		}
		fmt.Printf("\n%s\n", m.Text)
		return nil
	})
}

func printMessages(msgs []store.Message) {
	if len(msgs) == 0 {
		fmt.Println("no messages")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MSG\tDATE\tSENDER\tTEXT")
	for _, m := range msgs {
		text := strings.ReplaceAll(m.Text, "\n", " ")
		if len(text) > 100 {
			text = text[:100] + "…"
		}
		if text == "" && m.Media != nil {
			text = "[" + m.Media.Kind + "]"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", m.MsgID, formatDate(m.Date), m.SenderText, text)
	}
	_ = w.Flush()
}
