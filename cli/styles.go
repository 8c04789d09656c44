package cli

import (
	"github.com/charmbracelet/lipgloss"

	"syncevo/mapsync"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	newStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	updatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	deletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	modeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
)

func changeStyle(kind mapsync.ChangeKind) lipgloss.Style {
	switch kind {
	case mapsync.ChangeNew:
		return newStyle
	case mapsync.ChangeUpdated:
		return updatedStyle
	case mapsync.ChangeDeleted:
		return deletedStyle
	}
	return mutedStyle
}
