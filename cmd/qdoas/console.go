package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/dontdude/qdoas/internal/controller"
	"github.com/dontdude/qdoas/internal/domain"
)

var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgWhite)
	dimColor     = color.New(color.FgHiBlack)
)

// console prints session progress and engine pages as plain text.
type console struct {
	out io.Writer
	// tables enables the page tables; plots are only summarised.
	tables bool
}

var _ controller.Observer = (*console)(nil)

func newConsole(out io.Writer, tables bool) *console {
	return &console{out: out, tables: tables}
}

func (c *console) ModeChanged(m domain.Mode) {
	if m == domain.ModeNone {
		successColor.Fprintln(c.out, "✓ session finished")
		return
	}
	titleColor.Fprintf(c.out, "== %s ==\n", m)
}

func (c *console) SessionChanged(n int) {
	dimColor.Fprintf(c.out, "%d file(s) in session\n", n)
}

func (c *console) FileChanged(index int, file string, n int) {
	titleColor.Fprintf(c.out, "▶ [%d] %s", index+1, filepath.Base(file))
	dimColor.Fprintf(c.out, " (%d records)\n", n)
}

func (c *console) RecordChanged(cur, total int) {
	if cur <= 0 {
		return
	}
	infoColor.Fprintf(c.out, "  record %d/%d\n", cur, total)
}

func (c *console) EndOfRecords(total int) {
	dimColor.Fprintf(c.out, "  end of records (%d)\n", total)
}

func (c *console) PagesChanged(pages []*controller.Page) {
	for _, p := range pages {
		title := p.Title
		if title == "" {
			title = fmt.Sprintf("page %d", p.Number)
		}
		dimColor.Fprintf(c.out, "    [%s]", title)
		for _, plot := range p.Plots {
			dimColor.Fprintf(c.out, " plot %q (%d curves)", plot.Title, len(plot.Curves))
		}
		fmt.Fprintln(c.out)
		if !c.tables {
			continue
		}
		for _, row := range p.Table() {
			fmt.Fprintf(c.out, "      %s\n", strings.Join(row, "  "))
		}
	}
}

func (c *console) ErrorsReported(r controller.ErrorReport) {
	for _, sev := range []domain.Severity{domain.Fatal, domain.Warning, domain.Information} {
		msg, ok := r.Messages[sev]
		if !ok {
			continue
		}
		for _, line := range strings.Split(msg, "\n") {
			severityColor(sev).Fprintf(c.out, "  %-11s %s\n", strings.ToUpper(sev.String()), line)
		}
	}
}

func severityColor(s domain.Severity) *color.Color {
	switch s {
	case domain.Fatal:
		return errorColor
	case domain.Warning:
		return warnColor
	default:
		return infoColor
	}
}
