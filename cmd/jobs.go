package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control jobs",
	Long:  "Commands for listing, viewing, retrying and cancelling extraction jobs.",
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		filter := model.JobFilter{
			Status: model.JobStatus(status),
			UserID: user,
			Limit:  limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return eris.Errorf("invalid status %q", status)
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}
		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		return writeIndented(os.Stdout, job)
	},
}

// -- jobs records --

var jobsRecordsCmd = &cobra.Command{
	Use:   "records <job-id>",
	Short: "List a job's extracted records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dups, _ := cmd.Flags().GetBool("duplicates")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		if _, err := st.GetJob(ctx, args[0]); err != nil {
			return eris.Wrap(err, "jobs records")
		}
		records, err := st.ListRecords(ctx, args[0], model.RecordFilter{
			IncludeDuplicates: dups,
			Limit:             limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs records")
		}
		if asJSON {
			return writeIndented(os.Stdout, records)
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}
		formatRecordsList(os.Stdout, records)
		return nil
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.RequestCancel(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs cancel")
		}
		fmt.Fprintf(os.Stdout, "Job %s: status=%s cancel_requested=%t\n", job.ID, job.Status, job.CancelRequested)
		return nil
	},
}

// -- jobs retry --

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Requeue a failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		q, err := initQueue(ctx)
		if err != nil {
			return err
		}
		defer q.Close() //nolint:errcheck

		job, err := retryJob(ctx, st, q, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Job %s requeued (status=%s)\n", job.ID, job.Status)
		return nil
	},
}

// retryJob resets a failed job to pending and enqueues it.
func retryJob(ctx context.Context, st store.Store, q queue.Queue, id string) (*model.Job, error) {
	job, err := st.RetryJob(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "jobs retry")
	}
	if err := q.Enqueue(ctx, queue.Task{JobID: job.ID}); err != nil {
		return nil, eris.Wrap(err, "jobs retry: enqueue")
	}
	if err := st.MarkEnqueued(ctx, job.ID); err != nil {
		return nil, eris.Wrap(err, "jobs retry: mark enqueued")
	}
	return job, nil
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	jobsListCmd.Flags().String("user", "", "filter by user id")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")
	jobsListCmd.Flags().Duration("since", 0, "only jobs created within this window (e.g. 24h)")

	jobsRecordsCmd.Flags().Bool("duplicates", false, "include records flagged as duplicates")
	jobsRecordsCmd.Flags().Int("limit", 100, "max number of records to display")
	jobsRecordsCmd.Flags().Bool("json", false, "print records as JSON")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsRecordsCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
	rootCmd.AddCommand(jobsCmd)
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tPROGRESS\tRECORDS\tFAILED\tCREATED\tERROR")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%d/%d\t%d\t%s\t%s\n",
			shortID(j.ID),
			j.Source,
			j.Status,
			j.Progress,
			j.ProcessedRecords,
			j.TotalRecords,
			j.FailedRecords,
			j.CreatedAt.Format("2006-01-02 15:04"),
			truncate(j.Error, 40),
		)
	}
	_ = w.Flush()
}

// formatRecordsList writes a tabular list of records to out.
func formatRecordsList(out io.Writer, records []model.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tEMAIL\tPHONE\tWEBSITE\tCONFIDENCE\tDUP")
	for _, r := range records {
		dup := ""
		if r.IsDuplicate {
			dup = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			truncate(deref(r.BusinessName), 40),
			deref(r.Email),
			deref(r.Phone),
			deref(r.Website),
			r.Confidence,
			dup,
		)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
