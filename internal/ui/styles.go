// Package ui provides terminal styling for trellis CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Semantic colors, adaptive for light/dark terminals.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

// Status styles used across all commands.
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	TitleStyle  = lipgloss.NewStyle().Bold(true)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons.
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

// PriorityStyle returns the style for a priority value.
func PriorityStyle(priority string) lipgloss.Style {
	switch priority {
	case "critical":
		return FailStyle
	case "high":
		return WarnStyle
	case "low":
		return MutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

// BlockedBadge renders the blocked marker.
func BlockedBadge() string {
	return FailStyle.Render("[blocked]")
}

// ResolvedBadge renders the resolved marker.
func ResolvedBadge() string {
	return PassStyle.Render("[resolved]")
}
