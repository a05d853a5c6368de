package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dontdude/qdoas/internal/config"
	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/logger"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "qdoas",
	Short: "qdoas browses, analyses and calibrates spectra files.",
	Long: `qdoas drives the spectra engine from the command line, from a terminal UI or through a
remote qdoas server. Projects, sites and symbols live in a TOML workspace file.`,
	SilenceUsage: true,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", os.Getenv("QDOAS_CONFIG"), "config file (yaml, toml or json)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.StringP("workspace", "w", "qdoas.toml", "workspace file")

	for key, flag := range map[string]string{"log.level": "log-level", "workspace": "workspace"} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			slog.Error("Error binding flag", "flag", flag, "error", err)
			os.Exit(1)
		}
	}

	for _, mode := range []domain.Mode{domain.ModeBrowse, domain.ModeAnalyse, domain.ModeCalibrate} {
		rootCmd.AddCommand(newRunCmd(mode))
	}
}

// setup loads the configuration and installs the logger as the default one.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.NewLogger(cfg.Log, nil)
	slog.SetDefault(log)
	return cfg, log, nil
}
