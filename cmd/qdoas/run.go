package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dontdude/qdoas/internal/controller"
	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/spectra"
	"github.com/dontdude/qdoas/internal/worker"
	"github.com/dontdude/qdoas/internal/workspace"
)

func newRunCmd(mode domain.Mode) *cobra.Command {
	var (
		project string
		tables  bool
	)
	cmd := &cobra.Command{
		Use:   mode.String() + " [files...]",
		Short: fmt.Sprintf("Runs a %s session over the given files.", mode),
		Long: fmt.Sprintf(`Opens every file in %s mode with the chosen workspace project and walks all
records matching the project selection. Ctrl-C closes the current file and stops.`, mode),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ws, err := workspace.Load(cfg.Workspace)
			if err != nil {
				return err
			}
			session, err := ws.BuildSession(project, args...)
			if err != nil {
				return err
			}
			return runLocal(cmd.Context(), mode, session, newConsole(cmd.OutOrStdout(), tables), log)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "workspace project used for every file")
	cmd.Flags().BoolVar(&tables, "tables", mode != domain.ModeBrowse, "print the page tables")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// runLocal runs a session against an in-process engine thread, with the event loop standing in
// for a GUI thread.
func runLocal(ctx context.Context, mode domain.Mode, s *controller.Session, obs controller.Observer, log *slog.Logger) error {
	loop := controller.NewEventLoop()
	binding := loop.Binding()
	thread := worker.NewThread(spectra.NewEngine(spectra.WithLogger(log)), binding, worker.WithLogger(log))
	ctrl := controller.New(thread, log)
	binding.Attach(ctrl, thread)
	ctrl.Subscribe(obs)

	if err := thread.Start(); err != nil {
		return err
	}
	defer thread.Stop()

	return newDriver(loop, ctrl, log).run(ctx, mode, s)
}
