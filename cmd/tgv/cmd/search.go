package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgvault/tgvault/internal/archive"
	"github.com/tgvault/tgvault/internal/store"
)

var searchFlags struct {
	regex     string
	channel   int64
	topic     int64
	tags      []string
	tagSource string
	after     string
	before    string
	limit     int
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Full-text search over archived messages",
	Long: `Search the archive. A positional query uses the full-text index;
--regex applies a regular expression filter on top (or alone).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchFlags.regex, "regex", "", "regular expression filter")
	f.Int64Var(&searchFlags.channel, "channel", 0, "restrict to one channel id")
	f.Int64Var(&searchFlags.topic, "topic", 0, "restrict to one forum topic id")
	f.StringSliceVar(&searchFlags.tags, "tag", nil, "restrict to channels carrying one of these tags")
	f.StringVar(&searchFlags.tagSource, "tag-source", "", "tag partition to match (manual, auto); empty = any")
	f.StringVar(&searchFlags.after, "after", "", "only messages on or after this date")
	f.StringVar(&searchFlags.before, "before", "", "only messages before this date")
	f.IntVar(&searchFlags.limit, "limit", 20, "maximum results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	if query == "" && searchFlags.regex == "" {
		return fmt.Errorf("a query or --regex is required")
	}

	after, err := parseDate(searchFlags.after)
	if err != nil {
		return err
	}
	before, err := parseDate(searchFlags.before)
	if err != nil {
		return err
	}

	return withService(true, func(_ string, svc *archive.Service) error {
		results, err := svc.SearchArchiveMessages(store.SearchFilter{
			Query:     query,
			Regex:     searchFlags.regex,
			ChannelID: searchFlags.channel,
			TopicID:   searchFlags.topic,
			Tags:      searchFlags.tags,
			TagSource: searchFlags.tagSource,
			After:     after,
			Before:    before,
			Limit:     searchFlags.limit,
		})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tMSG\tDATE\tSENDER\tTEXT")
		for _, r := range results {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
				r.ChannelID, r.MsgID, formatDate(r.Date), r.SenderText, excerpt(r))
		}
		return w.Flush()
	})
}

func excerpt(r store.SearchResult) string {
	text := r.Snippet
	if text == "" {
		text = r.Text
	}
	text = strings.ReplaceAll(text, "\n", " ")
	if len(text) > 120 {
		text = text[:120] + "…"
	}
	return text
}
