package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/ui/style"
	"github.com/ozanb/duv/internal/util"
)

// RenderHeader renders the top header bar: program name, scan root, and
// tree-wide totals.
func RenderHeader(theme style.Theme, root *model.Entry, useApparent bool, width int) string {
	if root == nil || width < 10 {
		return ""
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Render(" duv")

	size := root.Bytes()
	if useApparent {
		size = root.Size
	}
	stats := fmt.Sprintf("%s items  %s ", util.FormatCount(root.Items()), util.FormatSize(size))
	statsStyled := lipgloss.NewStyle().Foreground(theme.TextMuted).Render(stats)

	titleW := lipgloss.Width(title)
	statsW := lipgloss.Width(statsStyled)

	path := util.RepairName(root.Name())
	pathMaxW := width - titleW - statsW - 3
	if pathMaxW > 5 {
		path = ansi.Truncate(path, pathMaxW, "…")
	} else {
		path = ""
	}
	pathStyled := lipgloss.NewStyle().Foreground(theme.TextPrimary).Render("  " + path)

	gap := width - titleW - lipgloss.Width(pathStyled) - statsW
	if gap < 1 {
		gap = 1
	}
	line := title + pathStyled + strings.Repeat(" ", gap) + statsStyled
	return theme.HeaderStyle.Width(width).Render(line)
}

// RenderBreadcrumb renders the path of the directory being browsed.
func RenderBreadcrumb(theme style.Theme, current *model.Entry, width int) string {
	if current == nil {
		return ""
	}

	var segments []string
	for e := current; e != nil; e = e.Parent {
		segments = append([]string{util.RepairName(e.Name())}, segments...)
	}

	sep := lipgloss.NewStyle().Foreground(theme.TextMuted).Render(" > ")
	var parts []string
	for i, seg := range segments {
		s := lipgloss.NewStyle().Foreground(theme.TextMuted)
		if i == len(segments)-1 {
			s = lipgloss.NewStyle().Foreground(theme.TextPrimary).Bold(true)
		}
		parts = append(parts, s.Render(seg))
	}

	breadcrumb := " " + strings.Join(parts, sep)
	if lipgloss.Width(breadcrumb) > width && len(parts) > 2 {
		ellipsis := lipgloss.NewStyle().Foreground(theme.TextMuted).Render("...")
		breadcrumb = " " + ellipsis + sep + strings.Join(parts[len(parts)-2:], sep)
	}
	return theme.BreadcrumbStyle.Width(width).Render(breadcrumb)
}
