package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local> <remote>",
		Short: "Upload a file",
		Long: `Upload a local file. When remote is an existing folder the file keeps
its local name inside it; an existing file at remote is replaced.

With --resumable (or resume = true in the config) an interrupted upload
continues from its last completed chunk when the same command is run again.`,
		Args: cobra.ExactArgs(2),
		RunE: runPut,
	}

	cmd.Flags().Bool("resumable", false, "persist progress so the upload can be resumed")
	cmd.Flags().Bool("previews", false, "attach a thumbnail and preview to images")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote> [local]",
		Short: "Download a file",
		Long: `Download a remote file. local defaults to the current directory; when
it is a directory the file keeps its remote name inside it.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}

	cmd.Flags().Bool("resumable", false, "persist progress so the download can be resumed")

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	local, remote := args[0], cleanRemotePath(args[1])

	resumable, err := cmd.Flags().GetBool("resumable")
	if err != nil {
		return err
	}

	s, err := cc.Session(cmd.Context())
	if err != nil {
		return err
	}

	if previews, _ := cmd.Flags().GetBool("previews"); previews {
		s.EnablePreviews(true)
	}

	start := s.StartUpload
	if resumable {
		start = s.StartUploadResumable
	}

	job, err := runJob(cmd.Context(), cc, func(ctx context.Context) (*mega.Job, error) {
		return start(ctx, local, remote)
	})
	if err != nil {
		return err
	}

	cc.Statusf("Uploaded %s to %s (%s)\n", local, job.RemotePath, formatSize(job.Size()))

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	remote := cleanRemotePath(args[0])

	local := "."
	if len(args) > 1 {
		local = args[1]
	}

	resumable, err := cmd.Flags().GetBool("resumable")
	if err != nil {
		return err
	}

	s, err := cc.Session(cmd.Context())
	if err != nil {
		return err
	}

	start := s.StartDownload
	if resumable {
		start = s.StartDownloadResumable
	}

	job, err := runJob(cmd.Context(), cc, func(ctx context.Context) (*mega.Job, error) {
		return start(ctx, remote, local)
	})
	if err != nil {
		return err
	}

	cc.Statusf("Downloaded %s to %s (%s)\n", remote, job.LocalPath, formatSize(job.Size()))

	return nil
}

// runJob starts a job and waits for it. The first SIGINT or SIGTERM
// pauses the job instead of abandoning it, so resumable transfers keep
// their progress on disk.
func runJob(parent context.Context, cc *CLIContext, start func(ctx context.Context) (*mega.Job, error)) (*mega.Job, error) {
	watch, stop := context.WithCancel(parent)
	defer stop()

	sigCtx := shutdownContext(watch, cc.Logger)

	// The job runs on parent so the signal only pauses it.
	job, err := start(parent)
	if err != nil {
		return nil, err
	}

	unhook := context.AfterFunc(sigCtx, job.Cancel)
	defer unhook()

	err = job.Wait(parent)

	if errors.Is(err, mega.ErrPaused) {
		cc.Logger.Info("transfer paused", slog.String("job", job.ID))

		if job.Resumable() || cc.Cfg.Resume {
			return job, fmt.Errorf("%w: run the same command again to resume", err)
		}

		return job, fmt.Errorf("%w: progress is not kept without --resumable", err)
	}

	if err != nil {
		return job, fmt.Errorf("%s %s: %w", job.Direction, job.ID, err)
	}

	return job, nil
}
