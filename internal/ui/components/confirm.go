package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/ui/style"
	"github.com/ozanb/duv/internal/util"
)

// ConfirmItem is an entry pending deletion, with its resolved path.
type ConfirmItem struct {
	Entry *model.Entry
	Path  string
}

// RenderConfirmDialog renders the deletion confirmation modal.
func RenderConfirmDialog(theme style.Theme, items []ConfirmItem, width, height int) string {
	boxWidth := 60
	if boxWidth > width-4 {
		boxWidth = width - 4
	}

	var lines []string
	lines = append(lines, theme.ModalTitle.Render("  Delete Confirmation"))
	lines = append(lines, lipgloss.NewStyle().Foreground(theme.Warning).
		Render(fmt.Sprintf("  The following %d item(s) will be permanently deleted:", len(items))))
	lines = append(lines, "")

	maxShow := 10
	if len(items) < maxShow {
		maxShow = len(items)
	}

	var totalSize uint64
	for _, item := range items {
		totalSize = util.SaturatingAdd(totalSize, item.Entry.Bytes())
	}

	for i := 0; i < maxShow; i++ {
		e := items[i].Entry
		icon := "  F "
		if e.Kind == sink.KindDir {
			icon = "  D "
		}
		name := ansi.Truncate(util.RepairName(e.Name()), boxWidth-20, "…")
		line := lipgloss.NewStyle().Foreground(theme.Error).Render(icon+name) +
			lipgloss.NewStyle().Foreground(theme.TextMuted).Render("  "+util.FormatSize(e.Bytes()))
		lines = append(lines, line)
	}
	if len(items) > maxShow {
		more := fmt.Sprintf("  ... and %d more", len(items)-maxShow)
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.TextMuted).Render(more))
	}

	lines = append(lines, "")
	lines = append(lines, lipgloss.NewStyle().Bold(true).Foreground(theme.TextPrimary).
		Render(fmt.Sprintf("  Total: %s", util.FormatSize(totalSize))))
	lines = append(lines, "")

	prompt := lipgloss.NewStyle().Foreground(theme.TextPrimary).Render("  Press ") +
		lipgloss.NewStyle().Bold(true).Foreground(theme.Success).Render("y") +
		lipgloss.NewStyle().Foreground(theme.TextPrimary).Render(" to confirm, ") +
		lipgloss.NewStyle().Bold(true).Foreground(theme.Error).Render("n/esc") +
		lipgloss.NewStyle().Foreground(theme.TextPrimary).Render(" to cancel")
	lines = append(lines, prompt)

	box := theme.ModalStyle.Width(boxWidth).Render(strings.Join(lines, "\n"))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}
