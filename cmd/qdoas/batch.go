package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/engine"
	"github.com/dontdude/qdoas/internal/platform/docker"
	"github.com/dontdude/qdoas/internal/spectra"
	"github.com/dontdude/qdoas/internal/worker"
)

var batchCmd = &cobra.Command{
	Use:   "batch -- [engine args...]",
	Short: "Runs the command-line engine in a container.",
	Long: `Runs the command-line engine image through the local Docker daemon, with the mount
directory available read-only at /data, and prints its output as engine messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		runner, err := docker.NewClient(ctx, log)
		if err != nil {
			return err
		}

		mount, _ := cmd.Flags().GetString("mount")
		image, _ := cmd.Flags().GetString("image")
		if image == "" {
			image = cfg.Worker.BatchImage
		}
		spec := domain.RunSpec{Image: image, Cmd: args, MountDir: mount, MemoryLimit: cfg.Worker.BatchMemory}
		return runBatch(ctx, runner, spec, cmd.OutOrStdout(), log)
	},
}

// runBatch submits one batch analysis to a fresh engine thread and prints its messages.
func runBatch(ctx context.Context, runner domain.ContainerRunner, spec domain.RunSpec, out io.Writer, log *slog.Logger) error {
	posted := make(chan struct{}, 1)
	thread := worker.NewThread(spectra.NewEngine(spectra.WithLogger(log)), worker.PosterFunc(func() {
		select {
		case posted <- struct{}{}:
		default:
		}
	}), worker.WithRunner(runner), worker.WithLogger(log))
	if err := thread.Start(); err != nil {
		return err
	}
	defer thread.Stop()

	if err := thread.Submit(engine.NewBatchAnalysis(spec)); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-posted:
	}

	var failed bool
	for _, resp := range thread.TakeResponses() {
		msg, ok := resp.(*engine.Message)
		if !ok {
			continue
		}
		for _, e := range msg.Errors {
			severityColor(e.Severity).Fprintln(out, e.Message)
			failed = failed || e.Severity == domain.Fatal
		}
	}
	if failed {
		return errSessionFailed
	}
	return nil
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	wd, _ := os.Getwd()
	batchCmd.Flags().String("mount", wd, "host directory mounted at "+docker.MountPoint)
	batchCmd.Flags().String("image", "", "engine image (default from worker.batch_image)")
	rootCmd.AddCommand(batchCmd)
}
