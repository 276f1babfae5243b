package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/ledger"
	"github.com/tonimelisma/mega-go/pkg/mega"
)

// defaultPruneAge is how long finished transfers stay in the history.
const defaultPruneAge = "30d"

func newTransfersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Inspect and retry recorded transfers",
		Long: `Every put and get is recorded in a local SQLite history (disable
with ledger = false). Use these commands to list, retry or prune it.`,
	}

	cmd.AddCommand(newTransfersListCmd(), newTransfersRetryCmd(), newTransfersPruneCmd())

	return cmd
}

func newTransfersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded transfers, newest first",
		Args:  cobra.NoArgs,
		RunE:  runTransfersList,
	}

	cmd.Flags().String("status", "", "only show pending, active, paused, failed or completed jobs")
	cmd.Flags().String("run", "", "only show jobs of one run id")
	cmd.Flags().Int("limit", 0, "maximum number of jobs (default 50)")

	return cmd
}

func newTransfersRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Run a failed or paused transfer again",
		Long: `Start a new job with the same paths as a recorded one. Resumable
transfers continue from their saved progress.`,
		Args: cobra.ExactArgs(1),
		RunE: runTransfersRetry,
	}
}

func newTransfersPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished transfers from the history",
		Args:  cobra.NoArgs,
		RunE:  runTransfersPrune,
	}

	cmd.Flags().String("older-than", defaultPruneAge, "age of the jobs to delete (e.g. 12h, 7d)")

	return cmd
}

// transferJSON is the JSON output schema for a recorded transfer.
type transferJSON struct {
	JobID      string `json:"job_id"`
	RunID      string `json:"run_id"`
	RetryOf    string `json:"retry_of,omitempty"`
	Direction  string `json:"direction"`
	Status     string `json:"status"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Resumable  bool   `json:"resumable"`
	Size       int64  `json:"size"`
	ChunksDone int    `json:"chunks_done"`
	ChunkCount int    `json:"chunk_count"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func toTransferJSON(r *ledger.Record) transferJSON {
	return transferJSON{
		JobID:      r.JobID,
		RunID:      r.RunID,
		RetryOf:    r.RetryOf,
		Direction:  r.Direction,
		Status:     r.Status,
		LocalPath:  r.LocalPath,
		RemotePath: r.RemotePath,
		Resumable:  r.Resumable,
		Size:       r.Size,
		ChunksDone: r.ChunksDone,
		ChunkCount: r.ChunkCount,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

var jobStatuses = []string{
	mega.StatusPending.String(),
	mega.StatusActive.String(),
	mega.StatusPaused.String(),
	mega.StatusFailed.String(),
	mega.StatusCompleted.String(),
}

func runTransfersList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	status, _ := cmd.Flags().GetString("status")
	runID, _ := cmd.Flags().GetString("run")
	limit, _ := cmd.Flags().GetInt("limit")

	status = strings.ToLower(status)
	if status != "" && !slices.Contains(jobStatuses, status) {
		return fmt.Errorf("%w: status %q (want one of %s)",
			mega.ErrInvalidArgument, status, strings.Join(jobStatuses, ", "))
	}

	l, err := cc.Ledger(cmd.Context())
	if err != nil {
		return err
	}

	recs, err := l.List(cmd.Context(), ledger.ListOptions{Status: status, RunID: runID, Limit: limit})
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]transferJSON, 0, len(recs))
		for i := range recs {
			out = append(out, toTransferJSON(&recs[i]))
		}

		return printJSON(cmd.OutOrStdout(), out)
	}

	if len(recs) == 0 {
		cc.Statusf("No transfers recorded.\n")

		return nil
	}

	rows := make([][]string, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		rows = append(rows, []string{
			r.JobID,
			r.Direction,
			r.Status,
			transferProgress(r),
			formatTime(r.UpdatedAt),
			transferLabel(r),
		})
	}

	printTable(cmd.OutOrStdout(), []string{"JOB", "DIRECTION", "STATUS", "PROGRESS", "UPDATED", "PATH"}, rows)

	return nil
}

func transferProgress(r *ledger.Record) string {
	if r.ChunkCount == 0 {
		return "-"
	}

	return strconv.Itoa(r.ChunksDone*100/r.ChunkCount) + "%"
}

func transferLabel(r *ledger.Record) string {
	if r.Direction == mega.DirUpload.String() {
		return r.LocalPath + " -> " + r.RemotePath
	}

	return r.RemotePath + " -> " + r.LocalPath
}

func runTransfersRetry(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	l, err := cc.Ledger(ctx)
	if err != nil {
		return err
	}

	rec, err := l.Get(ctx, args[0])
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: no recorded transfer %s", mega.ErrNotFound, args[0])
	}

	if err != nil {
		return err
	}

	if rec.Status == mega.StatusCompleted.String() {
		return fmt.Errorf("%w: transfer %s already completed", mega.ErrInvalidArgument, rec.JobID)
	}

	if strings.HasPrefix(rec.RemotePath, "public:") {
		return fmt.Errorf("%w: public downloads are retried with 'mega-go public get'", mega.ErrInvalidArgument)
	}

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	var start func(ctx context.Context, a, b string) (*mega.Job, error)

	a, b := rec.LocalPath, rec.RemotePath

	switch {
	case rec.Direction == mega.DirUpload.String() && rec.Resumable:
		start = s.StartUploadResumable
	case rec.Direction == mega.DirUpload.String():
		start = s.StartUpload
	case rec.Resumable:
		start, a, b = s.StartDownloadResumable, rec.RemotePath, rec.LocalPath
	default:
		start, a, b = s.StartDownload, rec.RemotePath, rec.LocalPath
	}

	job, err := runJob(ctx, cc, func(ctx context.Context) (*mega.Job, error) {
		return start(ctx, a, b)
	})
	if err != nil {
		return err
	}

	cc.Statusf("Transfer %s completed as %s\n", rec.JobID, job.ID)

	return nil
}

func runTransfersPrune(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	raw, _ := cmd.Flags().GetString("older-than")

	age, err := parseAge(raw)
	if err != nil {
		return err
	}

	l, err := cc.Ledger(cmd.Context())
	if err != nil {
		return err
	}

	n, err := l.Prune(cmd.Context(), time.Now().Add(-age))
	if err != nil {
		return err
	}

	cc.Statusf("Pruned %d finished transfers.\n", n)

	return nil
}

// parseAge extends time.ParseDuration with a whole-day "d" unit.
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: age %q", mega.ErrInvalidArgument, s)
		}

		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: age %q", mega.ErrInvalidArgument, s)
	}

	return d, nil
}
