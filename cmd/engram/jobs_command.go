package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"engram/internal/config"
	"engram/internal/state"
	"engram/internal/store"
)

func newJobsCommand(configFlag *string) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List ripping jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var states []state.JobState
			if activeOnly {
				states = []state.JobState{
					state.JobIdentifying, state.JobRipping,
					state.JobMatching, state.JobOrganizing, state.JobReviewNeeded,
				}
			}
			jobs, err := st.ListJobs(cmd.Context(), states...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}

			colorize := isatty.IsTerminal(os.Stdout.Fd())
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					job.Drive,
					jobName(job),
					string(job.ContentType),
					renderState(job.State, colorize),
					jobProgress(job),
					humanize.Time(job.UpdatedAt),
					jobNote(job),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]tableColumn{
				{header: "ID", alignRight: true},
				{header: "DRIVE"},
				{header: "TITLE"},
				{header: "TYPE"},
				{header: "STATE"},
				{header: "PROGRESS", alignRight: true},
				{header: "UPDATED"},
				{header: "NOTE"},
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Show only jobs that are still processing")
	return cmd
}

func jobName(job *store.Job) string {
	if job.DetectedTitle != "" {
		return job.DetectedTitle
	}
	return job.DiscLabel
}

func jobProgress(job *store.Job) string {
	if job.State != state.JobRipping || job.ProgressPercent <= 0 {
		return ""
	}
	out := fmt.Sprintf("%.0f%%", job.ProgressPercent)
	if job.ProgressSpeed != "" {
		out += " @ " + job.ProgressSpeed
	}
	return out
}

func jobNote(job *store.Job) string {
	switch job.State {
	case state.JobReviewNeeded:
		return job.ReviewReason
	case state.JobFailed:
		return job.ErrorMessage
	default:
		return ""
	}
}

func renderState(s state.JobState, colorize bool) string {
	label := string(s)
	if !colorize {
		return label
	}
	switch s {
	case state.JobCompleted:
		return text.FgGreen.Sprint(label)
	case state.JobFailed:
		return text.FgRed.Sprint(label)
	case state.JobReviewNeeded:
		return text.FgYellow.Sprint(label)
	default:
		return text.FgCyan.Sprint(label)
	}
}
