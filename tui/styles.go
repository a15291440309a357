// Package tui renders the interactive queue dashboard.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette for consistent theming
var (
	ColorPrimary = lipgloss.Color("#7D56F4")
	ColorSuccess = lipgloss.Color("#28A745")
	ColorWarning = lipgloss.Color("#FFC107")
	ColorError   = lipgloss.Color("#DC3545")
	ColorInfo    = lipgloss.Color("#17A2B8")
	ColorMuted   = lipgloss.Color("#6C757D")
)

// Status indicator symbols
const (
	SymbolSuccess    = "✓"
	SymbolError      = "✗"
	SymbolWarning    = "⚠"
	SymbolInProgress = "⟳"
	SymbolPending    = "○"
)

// Styles provides consistent styling across the TUI.
type Styles struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Help    lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1),
		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Info:    lipgloss.NewStyle().Foreground(ColorInfo),
		Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
		Help:    lipgloss.NewStyle().Foreground(ColorMuted).MarginTop(1),
	}
}

// formatSpeed renders bytes/second for display.
func formatSpeed(bytesPerSecond float64) string {
	switch {
	case bytesPerSecond >= 1<<20:
		return fmt.Sprintf("%.1f MB/s", bytesPerSecond/(1<<20))
	case bytesPerSecond >= 1<<10:
		return fmt.Sprintf("%.1f KB/s", bytesPerSecond/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSecond)
	}
}
