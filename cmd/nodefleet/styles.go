// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Terminal palette. Adaptive colors keep status output readable on light
// and dark backgrounds alike.
var (
	accent  = lipgloss.AdaptiveColor{Light: "#6D28D9", Dark: "#A78BFA"}
	dimmed  = lipgloss.AdaptiveColor{Light: "#4B5563", Dark: "#9CA3AF"}
	okGreen = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	badRed  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	amber   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	link    = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
)

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

var (
	// TitleStyle heads each command's output.
	TitleStyle    = fg(accent).Bold(true)
	SubtitleStyle = fg(dimmed)
	SuccessStyle  = fg(okGreen)
	ErrorStyle    = fg(badRed).Bold(true)
	WarningStyle  = fg(amber)
	// CmdStyle marks command names, config keys and paths.
	CmdStyle     = fg(link)
	VerboseStyle = fg(dimmed).Faint(true)
	hintStyle    = fg(dimmed).Italic(true)
)
