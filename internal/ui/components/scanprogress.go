package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/ozanb/duv/internal/scan"
	"github.com/ozanb/duv/internal/ui/style"
	"github.com/ozanb/duv/internal/util"
)

// RenderScanProgress renders the scanning overlay.
func RenderScanProgress(theme style.Theme, progress scan.Progress, width, height int) string {
	boxWidth := 56
	if boxWidth > width-4 {
		boxWidth = width - 4
	}

	var lines []string
	lines = append(lines, lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Render("  Scanning..."))
	lines = append(lines, "")

	statStyle := lipgloss.NewStyle().Foreground(theme.TextSecondary)
	lines = append(lines, statStyle.Render(fmt.Sprintf("  Dirs:   %s", util.FormatCount(progress.Dirs))))
	lines = append(lines, statStyle.Render(fmt.Sprintf("  Files:  %s", util.FormatCount(progress.Files))))
	lines = append(lines, statStyle.Render(fmt.Sprintf("  Size:   %s", util.FormatSize(progress.Bytes))))
	if progress.Errors > 0 {
		lines = append(lines, theme.ErrorText.Render(fmt.Sprintf("  Errors: %d", progress.Errors)))
	}
	if progress.CurrentPath != "" {
		lines = append(lines, "")
		path := ansi.Truncate(progress.CurrentPath, boxWidth-8, "…")
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.TextMuted).Render("  "+path))
	}

	box := theme.ModalStyle.Width(boxWidth).Render(strings.Join(lines, "\n"))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}
