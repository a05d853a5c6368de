package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dontdude/qdoas/internal/controller"
	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/logger"
	"github.com/dontdude/qdoas/internal/spectra"
	"github.com/dontdude/qdoas/internal/worker"
	"github.com/dontdude/qdoas/internal/workspace"
)

// responsesMsg tells the model that the engine thread queued responses.
type responsesMsg struct{}

// startMsg opens the session once the program is running.
type startMsg struct{}

// model is the terminal UI. Update runs on the program's event goroutine, which plays the
// part of the GUI thread: the controller and its observer methods are only used from there.
type model struct {
	ctrl    *controller.Controller
	source  controller.ResponseSource
	mode    domain.Mode
	session *controller.Session

	styles   styles
	progress progress.Model

	current   domain.Mode
	files     int
	fileIndex int
	file      string
	record    int
	total     int
	eor       bool
	ended     bool
	pages     []*controller.Page
	report    *controller.ErrorReport
	status    string
	quitting  bool
}

var _ controller.Observer = (*model)(nil)

func newModel(ctrl *controller.Controller, source controller.ResponseSource, mode domain.Mode, s *controller.Session) *model {
	m := &model{
		ctrl:     ctrl,
		source:   source,
		mode:     mode,
		session:  s,
		styles:   newStyles(),
		progress: progress.New(progress.WithDefaultGradient()),
	}
	ctrl.Subscribe(m)
	return m
}

func (m *model) Init() tea.Cmd {
	return func() tea.Msg { return startMsg{} }
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case startMsg:
		m.try(m.ctrl.StartSession(m.mode, m.session))

	case responsesMsg:
		if batch := m.source.TakeResponses(); len(batch) > 0 {
			m.ctrl.HandleResponses(batch)
		}
		if m.quitting && m.current == domain.ModeNone {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.progress.Width = max(10, msg.Width-24)

	case tea.KeyMsg:
		return m, m.handleKey(msg.String())
	}
	return m, nil
}

func (m *model) handleKey(key string) tea.Cmd {
	m.status = ""
	switch key {
	case "q", "ctrl+c", "esc":
		if m.current == domain.ModeNone {
			return tea.Quit
		}
		m.quitting = true
		if err := m.ctrl.Stop(); err != nil {
			return tea.Quit
		}
	case "n":
		m.try(m.ctrl.NextRecord())
	case "s":
		m.try(m.ctrl.Step())
	case "f":
		m.try(m.ctrl.NextFile())
	case "p":
		m.try(m.ctrl.PreviousFile())
	case "r":
		m.try(m.ctrl.Run())
	case " ":
		m.ctrl.Pause()
	case "x":
		m.try(m.ctrl.Stop())
	}
	return nil
}

func (m *model) try(err error) {
	switch {
	case err == nil:
	case errors.Is(err, controller.ErrNoMoreFiles):
		m.status = "no more files"
	default:
		m.status = err.Error()
	}
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(m.styles.header.Render("qdoas · " + m.mode.String()))
	b.WriteByte('\n')

	switch {
	case m.ended:
		b.WriteString(m.styles.success.Render("✓ session finished"))
		b.WriteByte('\n')
	case m.file != "":
		fmt.Fprintf(&b, "%s %s\n", m.styles.file.Render(fmt.Sprintf("File %d/%d", m.fileIndex, m.files)), filepath.Base(m.file))
		if m.total > 0 {
			done := float64(min(m.record, m.total)) / float64(m.total)
			label := fmt.Sprintf("record %d/%d", m.record, m.total)
			if m.eor {
				label = "end of records"
			}
			fmt.Fprintf(&b, "%s %s\n", m.progress.ViewAs(done), m.styles.inactive.Render(label))
		}
	default:
		b.WriteString(m.styles.inactive.Render("opening session..."))
		b.WriteByte('\n')
	}

	for _, p := range m.pages {
		b.WriteByte('\n')
		title := p.Title
		if title == "" {
			title = fmt.Sprintf("page %d", p.Number)
		}
		b.WriteString(m.styles.page.Render(title))
		b.WriteByte('\n')
		rows := make([]string, 0, len(p.Cells))
		for _, row := range p.Table() {
			rows = append(rows, strings.Join(row, "  "))
		}
		if len(rows) > 0 {
			b.WriteString(m.styles.table.Render(strings.Join(rows, "\n")))
			b.WriteByte('\n')
		}
	}

	if m.report != nil {
		b.WriteByte('\n')
		b.WriteString(m.severityStyle(m.report.Level).Render(m.report.String()))
		b.WriteByte('\n')
	}
	if m.status != "" {
		b.WriteString(m.styles.error.Render(m.status))
		b.WriteByte('\n')
	}

	help := "n next · s step · f/p file · r run · space pause · x stop · q quit"
	if m.ctrl.Running() {
		help = "running · space pause · x stop · q quit"
	}
	b.WriteString(m.styles.footer.Render(help))
	return lipgloss.NewStyle().Margin(0, 1).Render(b.String())
}

func (m *model) severityStyle(s domain.Severity) lipgloss.Style {
	switch s {
	case domain.Fatal:
		return m.styles.error
	case domain.Warning:
		return m.styles.warning
	default:
		return m.styles.info
	}
}

func (m *model) ModeChanged(mode domain.Mode) {
	m.ended = mode == domain.ModeNone && m.current != domain.ModeNone
	m.current = mode
}

func (m *model) SessionChanged(n int) { m.files = n }

func (m *model) FileChanged(index int, file string, n int) {
	m.fileIndex, m.file, m.total = index+1, file, n
	m.record, m.eor = 0, false
	m.pages, m.report = nil, nil
}

func (m *model) RecordChanged(cur, total int) {
	m.record, m.total, m.eor = cur, total, false
	m.report = nil
}

func (m *model) EndOfRecords(int)                        { m.eor = true }
func (m *model) PagesChanged(pages []*controller.Page)   { m.pages = pages }
func (m *model) ErrorsReported(r controller.ErrorReport) { m.report = &r }

var tuiCmd = &cobra.Command{
	Use:   "tui [files...]",
	Short: "Browses, analyses or calibrates files interactively.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		modeName, _ := cmd.Flags().GetString("mode")
		mode, err := domain.ParseMode(modeName)
		if err != nil {
			return err
		}
		project, _ := cmd.Flags().GetString("project")
		ws, err := workspace.Load(cfg.Workspace)
		if err != nil {
			return err
		}
		session, err := ws.BuildSession(project, args...)
		if err != nil {
			return err
		}
		switch cfg.Log.Output {
		case "", "stdout", "stderr":
			// The program owns the terminal.
			log = logger.Discard()
		}

		// The engine thread must never block on the program, so notifications are coalesced
		// and forwarded by a separate goroutine.
		notify := make(chan struct{}, 1)
		thread := worker.NewThread(spectra.NewEngine(spectra.WithLogger(log)), worker.PosterFunc(func() {
			select {
			case notify <- struct{}{}:
			default:
			}
		}), worker.WithLogger(log))
		ctrl := controller.New(thread, log)
		p := tea.NewProgram(newModel(ctrl, thread, mode, session), tea.WithAltScreen(), tea.WithContext(cmd.Context()))

		if err := thread.Start(); err != nil {
			return err
		}
		defer thread.Stop()
		go func() {
			for {
				select {
				case <-notify:
					p.Send(responsesMsg{})
				case <-thread.Done():
					return
				}
			}
		}()

		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("error running program: %w", err)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	tuiCmd.Flags().StringP("project", "p", "", "workspace project used for every file")
	tuiCmd.Flags().StringP("mode", "m", "browse", "access mode: browse, analyse or calibrate")
	_ = tuiCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(tuiCmd)
}
