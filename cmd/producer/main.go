package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dontdude/qdoas/internal/config"
	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/engine"
	"github.com/dontdude/qdoas/internal/logger"
	"github.com/dontdude/qdoas/internal/platform/queue"
	"github.com/dontdude/qdoas/internal/wire"
	"github.com/dontdude/qdoas/internal/workspace"
)

var (
	projectName string
	modeName    string
	records     int
)

var rootCmd = &cobra.Command{
	Use:   "producer [files...]",
	Short: "Publishes a remote session straight to the request stream.",
	Long: `Publishes one compound request per file (set project, begin, a number of records, end)
under a new session id, then prints the id so a client can watch the response batches.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil, os.Getenv("QDOAS_CONFIG"))
		if err != nil {
			return err
		}
		log := logger.NewLogger(cfg.Log, nil)
		slog.SetDefault(log)

		mode, err := domain.ParseMode(modeName)
		if err != nil {
			return err
		}
		if mode == domain.ModeNone {
			return errors.New("mode must not be idle")
		}
		ws, err := workspace.Load(cfg.Workspace)
		if err != nil {
			return err
		}
		project, err := ws.Project(projectName)
		if err != nil {
			return err
		}

		envs, err := buildSession(uuid.New().String(), mode, project, records, args)
		if err != nil {
			return err
		}

		redisQ, err := queue.NewRedisQueue(queue.Options{
			Addr:    cfg.Redis.Addr,
			Stream:  cfg.Redis.Stream,
			Group:   cfg.Redis.Group,
			Channel: cfg.Redis.Channel,
			Logger:  log,
		})
		if err != nil {
			return err
		}
		defer redisQ.Close()

		ctx := cmd.Context()
		for _, env := range envs {
			log.Info("Publishing request", "session", env.SessionID, "request", env.ID, "file", env.Children[1].File)
			if err := redisQ.Publish(ctx, env); err != nil {
				return fmt.Errorf("failed to publish request: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), envs[0].SessionID)
		return nil
	},
}

// buildSession returns one envelope per file, each opening the file, visiting up to n records
// and closing it again.
func buildSession(session string, mode domain.Mode, project *domain.Project, n int, files []string) ([]domain.RequestEnvelope, error) {
	envs := make([]domain.RequestEnvelope, 0, len(files))
	for _, file := range files {
		req := engine.NewCompound(engine.NewSetProject(project), engine.BeginFileFor(mode, file))
		for range n {
			req.Add(engine.NextRecordFor(mode))
		}
		req.Add(engine.EndFileFor(mode))

		env, err := wire.EncodeRequest(req)
		if err != nil {
			return nil, err
		}
		env.SessionID = session
		env.ID = uuid.New().String()
		envs = append(envs, env)
	}
	return envs, nil
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.Flags().StringVarP(&projectName, "project", "p", "", "workspace project used for every file")
	rootCmd.Flags().StringVarP(&modeName, "mode", "m", "browse", "access mode: browse, analyse or calibrate")
	rootCmd.Flags().IntVarP(&records, "records", "n", 1, "number of records requested per file")
	_ = rootCmd.MarkFlagRequired("project")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("producer failed", "error", err)
		os.Exit(1)
	}
}
