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

// TreeView renders the entry list of the current directory.
type TreeView struct {
	Theme       style.Theme
	Layout      style.Layout
	Items       []*model.Entry
	Cursor      int
	Offset      int
	Marked      map[*model.Entry]bool
	UseApparent bool
	ParentSize  uint64
}

// Render renders the list.
func (tv *TreeView) Render() string {
	width := tv.Layout.ContentWidth()

	if len(tv.Items) == 0 {
		empty := lipgloss.NewStyle().Foreground(tv.Theme.TextMuted).Render("  (empty directory)")
		return style.FullWidth(empty, width)
	}

	contentHeight := tv.Layout.ContentHeight()
	barWidth := tv.Layout.BarWidth()
	nameWidth := tv.Layout.NameWidth()

	end := tv.Offset + contentHeight
	if end > len(tv.Items) {
		end = len(tv.Items)
	}

	var lines []string
	for i := tv.Offset; i < end; i++ {
		e := tv.Items[i]
		lines = append(lines, tv.renderRow(e, i == tv.Cursor, tv.Marked[e], barWidth, nameWidth, width))
	}
	for len(lines) < contentHeight {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func (tv *TreeView) renderRow(e *model.Entry, selected, marked bool, barWidth, nameWidth, totalWidth int) string {
	size := e.Bytes()
	if tv.UseApparent {
		size = e.Size
	}

	pct := util.Percent(size, tv.ParentSize)
	pctStyled := tv.Theme.PercentText.Render(fmt.Sprintf("%5.1f%%", pct))
	bar := tv.Theme.BarGradient(barWidth, pct/100)

	name := util.RepairName(e.Name())
	if e.Kind == sink.KindDir {
		name += "/"
	}
	name = ansi.Truncate(name, nameWidth, "…")

	indicator := "  "
	switch {
	case selected && marked:
		indicator = tv.Theme.MarkedIndicator.Render("*") + tv.Theme.CursorIndicator.Render(">")
	case selected:
		indicator = tv.Theme.CursorIndicator.Render(" >")
	case marked:
		indicator = tv.Theme.MarkedIndicator.Render("* ")
	}

	var nameStyled string
	if e.Kind == sink.KindDir {
		nameStyled = tv.Theme.DirName.Render(name)
	} else {
		nameStyled = tv.Theme.FileName.Render(name)
	}
	nameStyled += tv.tags(e)

	sizeStyled := tv.Theme.SizeText.Width(10).Render(util.FormatSize(size))

	row := fmt.Sprintf("%s%s [%s] %s %s", indicator, pctStyled, bar, sizeStyled, nameStyled)
	row = style.FullWidth(row, totalWidth)
	if selected {
		return tv.Theme.SelectedRow.Width(totalWidth).Render(row)
	}
	return row
}

// tags appends the classification markers shown after a name.
func (tv *TreeView) tags(e *model.Entry) string {
	var out string
	switch e.SpecialKind() {
	case sink.SpecialOtherFS:
		out += lipgloss.NewStyle().Foreground(tv.Theme.TextMuted).Render(" <other fs>")
	case sink.SpecialKernfs:
		out += lipgloss.NewStyle().Foreground(tv.Theme.TextMuted).Render(" <kernfs>")
	case sink.SpecialExcluded:
		out += lipgloss.NewStyle().Foreground(tv.Theme.TextMuted).Render(" <excluded>")
	}
	if e.Err() {
		out += tv.Theme.ErrorText.Render(" !")
	} else if e.Suberr() {
		out += tv.Theme.ErrorText.Render(" .")
	}
	if e.Kind == sink.KindLink {
		out += lipgloss.NewStyle().Foreground(tv.Theme.TextMuted).Render(" H")
	}
	return out
}

// EnsureVisible adjusts the offset to keep the cursor on screen.
func (tv *TreeView) EnsureVisible() {
	contentHeight := tv.Layout.ContentHeight()
	if tv.Cursor < tv.Offset {
		tv.Offset = tv.Cursor
	}
	if tv.Cursor >= tv.Offset+contentHeight {
		tv.Offset = tv.Cursor - contentHeight + 1
	}
	if tv.Offset < 0 {
		tv.Offset = 0
	}
}
