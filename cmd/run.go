package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
)

var (
	runURLs        []string
	runKeyword     string
	runLocation    string
	runFile        string
	runSource      string
	runUserID      string
	runShowRecords bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a job and process it in the foreground",
	Example: `  leadgen run --url https://acme.example/contact
  leadgen run --keyword plumbers --location "Austin, TX"
  leadgen run --file ./leads.xlsx --records`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		job, err := jobFromFlags()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		w, err := initWorker(st, monitoring.NewMetrics())
		if err != nil {
			return err
		}

		if err := st.CreateJob(ctx, job); err != nil {
			return eris.Wrap(err, "create job")
		}
		zap.L().Info("processing job", zap.String("job_id", job.ID), zap.String("source", string(job.Source)))

		procErr := w.Process(ctx, job.ID)

		// Report the stored outcome even when processing failed or was
		// interrupted.
		readCtx := context.WithoutCancel(ctx)
		final, err := st.GetJob(readCtx, job.ID)
		if err != nil {
			return eris.Wrap(err, "load job")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(final); err != nil {
			return err
		}

		if runShowRecords {
			records, err := st.ListRecords(readCtx, job.ID, model.RecordFilter{Limit: 1000})
			if err != nil {
				return eris.Wrap(err, "list records")
			}
			formatRecordsList(os.Stdout, records)
		}
		return procErr
	},
}

// jobFromFlags builds the job described by the run flags. The source is
// inferred from the flags that are set unless --source is given.
func jobFromFlags() (*model.Job, error) {
	job := &model.Job{
		UserID:     runUserID,
		Keyword:    strings.TrimSpace(runKeyword),
		Location:   strings.TrimSpace(runLocation),
		SourceURLs: runURLs,
		FileURI:    strings.TrimSpace(runFile),
		Source:     model.JobSource(runSource),
	}
	if job.Source == "" {
		switch {
		case len(job.SourceURLs) > 0:
			job.Source = model.SourceURLs
		case job.FileURI != "":
			job.Source = model.SourceFileUpload
		default:
			job.Source = model.SourceWebSearch
		}
	}
	if !job.Source.Valid() {
		return nil, eris.Errorf("unknown source %q", runSource)
	}

	switch job.Source {
	case model.SourceURLs:
		if len(job.SourceURLs) == 0 {
			return nil, eris.New("--url is required for the urls source")
		}
	case model.SourceFileUpload:
		if job.FileURI == "" {
			return nil, eris.New("--file is required for the file_upload source")
		}
	case model.SourceWebSearch, model.SourceAPI:
		if job.Keyword == "" {
			return nil, eris.New("--keyword is required for search sources")
		}
	}
	return job, nil
}

func init() {
	runCmd.Flags().StringSliceVar(&runURLs, "url", nil, "target URL (repeatable)")
	runCmd.Flags().StringVar(&runKeyword, "keyword", "", "search keyword")
	runCmd.Flags().StringVar(&runLocation, "location", "", "search location")
	runCmd.Flags().StringVar(&runFile, "file", "", "CSV or XLSX file of URLs (path, http(s):// or ftp://)")
	runCmd.Flags().StringVar(&runSource, "source", "", "job source: urls, web_search, file_upload or api")
	runCmd.Flags().StringVar(&runUserID, "user", "", "owning user id")
	runCmd.Flags().BoolVar(&runShowRecords, "records", false, "print the extracted records")
	rootCmd.AddCommand(runCmd)
}
