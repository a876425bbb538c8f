package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/history"
)

// HistoryCmd implements the 'history' command over the run history database.
type HistoryCmd struct {
	Limit int    `short:"n" default:"20" help:"How many runs to show"`
	RunID string `name:"run" help:"Show one run in detail"`
	JSON  bool   `help:"Emit JSON instead of a table"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.History.DB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if h.RunID != "" {
		return h.showRun(ctx, store)
	}
	return h.listRuns(ctx, store)
}

func (h *HistoryCmd) listRuns(ctx context.Context, store *history.Store) error {
	runs, err := store.RecentRuns(ctx, h.Limit)
	if err != nil {
		return err
	}
	if h.JSON {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATUS\tBRANCH\tJOBS\tWHEELS\tSTARTED\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.ID, run.Workflow, run.Status, run.Branch,
			jobsColumn(run), run.Wheels,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			durationColumn(run.DurationMS))
	}
	return w.Flush()
}

func (h *HistoryCmd) showRun(ctx context.Context, store *history.Store) error {
	run, err := store.RunByID(ctx, h.RunID)
	if err != nil {
		return err
	}
	jobs, err := store.JobsForRun(ctx, run.ID)
	if err != nil {
		return err
	}

	if h.JSON {
		type jobDetail struct {
			*history.JobRun
			Steps []history.StepResult `json:"steps,omitempty"`
		}
		detail := struct {
			*history.Run
			Jobs []jobDetail `json:"jobs"`
		}{Run: run}
		for _, job := range jobs {
			steps, err := store.StepsForJob(ctx, run.ID, job.Key)
			if err != nil {
				return err
			}
			detail.Jobs = append(detail.Jobs, jobDetail{JobRun: job, Steps: steps})
		}
		return printJSON(detail)
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  workflow:  %s\n", run.Workflow)
	fmt.Printf("  status:    %s\n", run.Status)
	if run.Repo != "" {
		fmt.Printf("  repo:      %s\n", run.Repo)
	}
	if run.Branch != "" {
		fmt.Printf("  branch:    %s @ %s\n", run.Branch, shortSHA(run.SHA))
	}
	fmt.Printf("  trigger:   %s\n", run.TriggeredBy)
	fmt.Printf("  started:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("  duration:  %s\n", durationColumn(run.DurationMS))
	fmt.Printf("  jobs:      %d (%d failed), %d wheels\n", run.JobsTotal, run.JobsFailed, run.Wheels)
	if run.Error != "" {
		fmt.Printf("  error:     %s\n", run.Error)
	}

	for _, job := range jobs {
		fmt.Printf("\n  %s [%s] %s\n", job.Key, job.Status, durationColumn(job.DurationMS))
		if job.Error != "" {
			fmt.Printf("    error: %s\n", job.Error)
		}
		steps, err := store.StepsForJob(ctx, run.ID, job.Key)
		if err != nil {
			return err
		}
		for _, step := range steps {
			fmt.Printf("    %2d. %-30s %-10s %s\n",
				step.Index+1, step.Name, step.Status, durationColumn(step.DurationMS))
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jobsColumn(run *history.Run) string {
	if run.JobsFailed > 0 {
		return fmt.Sprintf("%d/%d failed", run.JobsFailed, run.JobsTotal)
	}
	return fmt.Sprintf("%d", run.JobsTotal)
}

func durationColumn(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(10 * time.Millisecond).String()
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
