package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/workspace"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manages the projects of the workspace.",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the workspace projects.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		ws, err := workspace.Load(cfg.Workspace)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tFORMAT\tSITE\tWINDOWS")
		for _, p := range ws.Projects() {
			names := make([]string, 0, len(p.Windows))
			for _, win := range p.Windows {
				if win.Enabled {
					names = append(names, win.Name)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Instrument.Format, p.Instrument.Site, strings.Join(names, ","))
		}
		return w.Flush()
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Adds a project to the workspace.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		ws, err := workspace.Load(cfg.Workspace)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		p := &domain.Project{Name: args[0]}
		p.Instrument.Format, _ = flags.GetString("format")
		p.Instrument.Site, _ = flags.GetString("site")
		p.Selection.SZAMin, _ = flags.GetFloat64("sza-min")
		p.Selection.SZAMax, _ = flags.GetFloat64("sza-max")
		p.Selection.FilterSZA = flags.Changed("sza-min") || flags.Changed("sza-max")
		p.Display = domain.Display{Spectra: true, Data: true, Calibrated: true}
		specs, _ := flags.GetStringSlice("window")
		for _, s := range specs {
			win, err := parseWindow(s)
			if err != nil {
				return err
			}
			p.Windows = append(p.Windows, win)
		}

		if err := ws.AddProject(p); err != nil {
			return err
		}
		if err := ws.Save(cfg.Workspace); err != nil {
			return err
		}
		log.Info("Project added", "project", p.Name, "workspace", cfg.Workspace)
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Removes a project from the workspace.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		ws, err := workspace.Load(cfg.Workspace)
		if err != nil {
			return err
		}
		if err := ws.RemoveProject(args[0]); err != nil {
			return err
		}
		if err := ws.Save(cfg.Workspace); err != nil {
			return err
		}
		log.Info("Project removed", "project", args[0], "workspace", cfg.Workspace)
		return nil
	},
}

// parseWindow reads an analysis window written as name:min:max.
func parseWindow(s string) (domain.AnalysisWindow, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" {
		return domain.AnalysisWindow{}, fmt.Errorf("window %q: want name:min:max", s)
	}
	lo, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return domain.AnalysisWindow{}, fmt.Errorf("window %q: %w", s, err)
	}
	hi, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return domain.AnalysisWindow{}, fmt.Errorf("window %q: %w", s, err)
	}
	if lo >= hi {
		return domain.AnalysisWindow{}, fmt.Errorf("window %q: min must be below max", s)
	}
	return domain.AnalysisWindow{Name: parts[0], Enabled: true, Min: lo, Max: hi}, nil
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	flags := projectAddCmd.Flags()
	flags.String("format", "ascii", "spectra file format")
	flags.String("site", "", "observation site")
	flags.Float64("sza-min", 0, "lowest solar zenith angle selected")
	flags.Float64("sza-max", 180, "highest solar zenith angle selected")
	flags.StringSlice("window", nil, "analysis window as name:min:max, repeatable")

	projectCmd.AddCommand(projectListCmd, projectAddCmd, projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}
