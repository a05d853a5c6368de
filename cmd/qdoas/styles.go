package main

import "github.com/charmbracelet/lipgloss"

type styles struct {
	header   lipgloss.Style
	file     lipgloss.Style
	page     lipgloss.Style
	table    lipgloss.Style
	inactive lipgloss.Style
	info     lipgloss.Style
	warning  lipgloss.Style
	error    lipgloss.Style
	success  lipgloss.Style
	footer   lipgloss.Style
}

func newStyles() styles {
	return styles{
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("33")).
			Padding(0, 2).
			MarginBottom(1),
		file:     lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
		page:     lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Underline(true),
		table:    lipgloss.NewStyle().PaddingLeft(2),
		inactive: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		info:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		error:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		success:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true),
		footer: lipgloss.NewStyle().
			MarginTop(1).
			BorderTop(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("33")).
			Foreground(lipgloss.Color("240")),
	}
}
