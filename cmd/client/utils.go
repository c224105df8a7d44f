package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/uplinkhq/uplink/internal/sdk"
)

var (
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
)

func renderStatus(status string) string {
	switch status {
	case sdk.StatusActive, sdk.StatusFinalizing:
		return cyan.Render(status)
	case sdk.StatusCompleted:
		return green.Render(status)
	case sdk.StatusPaused:
		return yellow.Render(status)
	case sdk.StatusFailed, sdk.StatusCancelled, sdk.StatusExpired:
		return red.Render(status)
	default:
		return gray.Render(status)
	}
}
