package commands

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/geoworks-io/gisapi/pkg/gisapi"
	"github.com/spf13/cobra"
)

// NewJobsCommand creates the jobs command group.
func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Manage asynchronous jobs",
		Long:    "Submit, track, and cancel asynchronous geoprocessing jobs",
	}

	cmd.AddCommand(newJobsSubmitCommand())
	cmd.AddCommand(newJobsStatusCommand())
	cmd.AddCommand(newJobsWaitCommand())
	cmd.AddCommand(newJobsResultsCommand())
	cmd.AddCommand(newJobsCancelCommand())

	return cmd
}

// parseJobParams converts repeated key=value flags to form parameters.
func parseJobParams(raw []string) (url.Values, error) {
	params := url.Values{}

	for _, pair := range raw {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrJobParamFormat, pair)
		}

		params.Set(key, value)
	}

	return params, nil
}

func jobInfoRows(info *gisapi.JobInfo) [][]string {
	rows := [][]string{
		{"Job ID", info.JobID},
		{"Status", string(info.Status())},
		{"Raw Status", info.JobStatus},
	}

	for _, message := range info.Messages {
		rows = append(rows, []string{"Message", message.Description})
	}

	for name := range info.Results {
		rows = append(rows, []string{"Result", name})
	}

	return rows
}

func newJobsSubmitCommand() *cobra.Command {
	var (
		rawParams []string
		wait      bool
		watch     bool
		result    string
		interval  time.Duration
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <operation-url>",
		Short: "Submit a job",
		Long:  "Submit an asynchronous job to an operation endpoint and optionally track it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseJobParams(rawParams)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			job, err := client.Jobs().Submit(ctx, &gisapi.SubmitJobRequest{
				URL:             args[0],
				Params:          params,
				StartMonitoring: watch,
				PollingRate:     interval,
			})
			if err != nil {
				return fmt.Errorf("failed to submit job: %w", err)
			}

			cmd.Printf("Submitted job %s\n", job.ID())

			if watch {
				job.On(gisapi.JobEventStatus, func(event gisapi.JobEvent) {
					cmd.Printf("  %s\n", event.Info.Status())
				})
				job.On(gisapi.JobEventError, func(event gisapi.JobEvent) {
					cmd.Printf("  poll error: %v\n", event.Err)
				})
			}

			if result != "" {
				output, err := job.GetResults(ctx, result)
				if err != nil {
					return fmt.Errorf("failed to get job result: %w", err)
				}

				return renderOutput(output, [][]string{
					{"Parameter", output.ParamName},
					{"Data Type", output.DataType},
					{"Value", string(output.Value)},
				})
			}

			if wait || watch {
				info, err := client.Jobs().PollUntilComplete(ctx, args[0], job.ID())
				if err != nil {
					return fmt.Errorf("failed waiting for job: %w", err)
				}

				return renderOutput(info, jobInfoRows(info))
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&rawParams, "param", nil, "job parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job reaches a terminal state")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream status transitions while waiting")
	cmd.Flags().StringVar(&result, "result", "", "output parameter to fetch once the job succeeds")
	cmd.Flags().DurationVar(&interval, "interval", 0, "polling interval override")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort tracking after this duration")

	return cmd
}

func newJobsStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <operation-url> <job-id>",
		Short: "Show a job's status",
		Long:  "Fetch a job's current status without waiting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			info, err := client.Jobs().Get(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to get job status: %w", err)
			}

			return renderOutput(info, jobInfoRows(info))
		},
	}
}

func newJobsWaitCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait <operation-url> <job-id>",
		Short: "Wait for a job to finish",
		Long:  "Poll a job until it reaches a terminal state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			info, err := client.Jobs().PollUntilComplete(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed waiting for job: %w", err)
			}

			return renderOutput(info, jobInfoRows(info))
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort waiting after this duration")

	return cmd
}

func newJobsResultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "results <operation-url> <job-id> <parameter>",
		Short: "Fetch a job output parameter",
		Long:  "Wait for a job to succeed and fetch the named output parameter",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			job := client.Jobs().Attach(args[0], args[1])

			result, err := job.GetResults(ctx, args[2])
			if err != nil {
				return fmt.Errorf("failed to get job result: %w", err)
			}

			return renderOutput(result, [][]string{
				{"Parameter", result.ParamName},
				{"Data Type", result.DataType},
				{"Value", string(result.Value)},
			})
		},
	}
}

func newJobsCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <operation-url> <job-id>",
		Short: "Cancel a job",
		Long:  "Request cancellation of a running job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := createClient(ctx)
			if err != nil {
				return err
			}

			job := client.Jobs().Attach(args[0], args[1])

			info, err := job.CancelJob(ctx)
			if err != nil {
				return fmt.Errorf("failed to cancel job: %w", err)
			}

			return renderOutput(info, jobInfoRows(info))
		},
	}
}
