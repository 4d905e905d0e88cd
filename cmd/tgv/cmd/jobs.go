package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tgvault/tgvault/internal/archive"
	"github.com/tgvault/tgvault/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage channel sync jobs",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var jobsAddFlags struct {
	depth   int64
	minDate string
}

var jobsAddCmd = &cobra.Command{
	Use:   "add <channel-id>",
	Short: "Arm (or re-arm) a backfill job for a channel",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsAdd,
}

var jobsListFlags struct {
	status  string
	channel int64
	limit   int
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync jobs with channel info",
	RunE:  runJobsList,
}

var jobsRetryFlags struct {
	job       int64
	channel   int64
	allErrors bool
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset failed jobs to pending",
	RunE:  runJobsRetry,
}

var jobsCancelFlags struct {
	job     int64
	channel int64
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Delete job rows (archived messages are kept)",
	RunE:  runJobsCancel,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and archive totals",
	RunE:  runJobsStats,
}

func init() {
	jobsAddCmd.Flags().Int64Var(&jobsAddFlags.depth, "depth", 0, "backfill target message count (default 1000)")
	jobsAddCmd.Flags().StringVar(&jobsAddFlags.minDate, "min-date", "", "do not archive messages older than this date")

	jobsListCmd.Flags().StringVar(&jobsListFlags.status, "status", "", "filter by status (pending, in_progress, idle, error)")
	jobsListCmd.Flags().Int64Var(&jobsListFlags.channel, "channel", 0, "filter by channel id")
	jobsListCmd.Flags().IntVar(&jobsListFlags.limit, "limit", 50, "maximum jobs")

	jobsRetryCmd.Flags().Int64Var(&jobsRetryFlags.job, "job", 0, "retry one job by id")
	jobsRetryCmd.Flags().Int64Var(&jobsRetryFlags.channel, "channel", 0, "retry the job of one channel")
	jobsRetryCmd.Flags().BoolVar(&jobsRetryFlags.allErrors, "all-errors", false, "retry every job in error")

	jobsCancelCmd.Flags().Int64Var(&jobsCancelFlags.job, "job", 0, "cancel one job by id")
	jobsCancelCmd.Flags().Int64Var(&jobsCancelFlags.channel, "channel", 0, "cancel the job of one channel")

	jobsCmd.AddCommand(jobsAddCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id %q", args[0])
	}
	minDate, err := parseDate(jobsAddFlags.minDate)
	if err != nil {
		return err
	}

	return withService(false, func(_ string, svc *archive.Service) error {
		job, err := svc.AddJob(channelID, archive.JobSpec{
			Depth:   jobsAddFlags.depth,
			MinDate: minDate,
		})
		if err != nil {
			return err
		}
		fmt.Printf("job %d armed for channel %d (target %d)\n", job.JobID, job.ChannelID, job.TargetCount)
		fmt.Println("the daemon will pick it up on its next drain pass")
		return nil
	})
}

func runJobsList(cmd *cobra.Command, args []string) error {
	return withService(true, func(_ string, svc *archive.Service) error {
		jobs, err := svc.ListJobs(store.JobFilter{
			Status:    jobsListFlags.status,
			ChannelID: jobsListFlags.channel,
			Limit:     jobsListFlags.limit,
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("no jobs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tCHANNEL\tTITLE\tSTATUS\tPROGRESS\tERROR")
		for _, j := range jobs {
			title := j.ChannelTitle
			if title == "" {
				title = j.Username
			}
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d/%d\t%s\n",
				j.JobID, j.ChannelID, title, j.Status, j.MessageCount, j.TargetCount, j.Error)
		}
		return w.Flush()
	})
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	return withService(false, func(_ string, svc *archive.Service) error {
		n, err := svc.RetryJobs(store.RetrySelector{
			JobID:     jobsRetryFlags.job,
			ChannelID: jobsRetryFlags.channel,
			AllErrors: jobsRetryFlags.allErrors,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d job(s) reset to pending\n", n)
		return nil
	})
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	return withService(false, func(_ string, svc *archive.Service) error {
		n, err := svc.CancelJobs(store.CancelSelector{
			JobID:     jobsCancelFlags.job,
			ChannelID: jobsCancelFlags.channel,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d job(s) cancelled\n", n)
		return nil
	})
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	return withService(true, func(_ string, svc *archive.Service) error {
		stats, err := svc.QueueStats()
		if err != nil {
			return err
		}
		fmt.Printf("channels: %d\nmessages: %d\n", stats.Channels, stats.Messages)
		for _, status := range []string{store.JobPending, store.JobInProgress, store.JobIdle, store.JobError} {
			if n := stats.JobsByStatus[status]; n > 0 {
				fmt.Printf("jobs %s: %d\n", status, n)
			}
		}
		return nil
	})
}
