package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/ui/style"
	"github.com/ozanb/duv/internal/util"
)

// StatusInfo holds the current state for the status bar.
type StatusInfo struct {
	CurrentDir  *model.Entry
	ItemCount   int
	MarkedCount int
	MarkedSize  uint64
	UseApparent bool
	Message     string
}

// RenderStatusBar renders the bottom status bar.
func RenderStatusBar(theme style.Theme, info StatusInfo, width int) string {
	if info.Message != "" {
		line := " " + lipgloss.NewStyle().Foreground(theme.Warning).Bold(true).Render(info.Message)
		return theme.StatusBarStyle.Width(width).Render(line)
	}

	var parts []string
	if d := info.CurrentDir; d != nil {
		parts = append(parts, fmt.Sprintf("%d items", info.ItemCount))

		size, label := d.Bytes(), "disk"
		if info.UseApparent {
			size, label = d.Size, "apparent"
		}
		parts = append(parts, fmt.Sprintf("%s %s", util.FormatSize(size), label))

		if d.Dir != nil && d.Dir.SharedBlocks > 0 && !info.UseApparent {
			parts = append(parts, fmt.Sprintf("%s shared", util.FormatSize(util.BlocksToBytes(d.Dir.SharedBlocks))))
		}
	}
	if info.MarkedCount > 0 {
		marked := lipgloss.NewStyle().Foreground(theme.Error).Bold(true).
			Render(fmt.Sprintf("* %d marked (%s)", info.MarkedCount, util.FormatSize(info.MarkedSize)))
		parts = append(parts, marked)
	}
	left := " " + strings.Join(parts, " | ")

	hints := []struct{ key, desc string }{
		{"?", "help"},
		{"d", "delete"},
		{"q", "quit"},
	}
	var rightParts []string
	for _, h := range hints {
		k := lipgloss.NewStyle().Foreground(theme.Primary).Bold(true).Render(h.key)
		d := lipgloss.NewStyle().Foreground(theme.TextMuted).Render(" " + h.desc)
		rightParts = append(rightParts, k+d)
	}
	right := strings.Join(rightParts, "  ") + " "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return theme.StatusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}
