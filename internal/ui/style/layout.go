package style

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Layout manages the arrangement of UI components within the terminal.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a layout for the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentHeight returns the rows available for the entry list: everything
// minus header, breadcrumb, and status bar.
func (l Layout) ContentHeight() int {
	h := l.Height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ContentWidth returns the width available for the entry list.
func (l Layout) ContentWidth() int {
	if l.Width < 20 {
		return 20
	}
	return l.Width
}

// BarWidth returns the width of the usage bar in each row.
func (l Layout) BarWidth() int {
	bar := l.ContentWidth() - l.rowOverhead()
	if bar < 5 {
		bar = 5
	}
	if bar > 30 {
		bar = 30
	}
	return bar
}

// NameWidth returns the width available for entry names.
func (l Layout) NameWidth() int {
	w := l.ContentWidth() - l.rowOverhead() - l.BarWidth()
	if w < 8 {
		w = 8
	}
	return w
}

// rowOverhead is the fixed-width portion of each row:
// mark(2) + pct(6) + " ["(2) + "] "(2) + size(10) + " "(1).
func (l Layout) rowOverhead() int {
	return 23
}

// FullWidth pads a string with spaces to exactly the target visual width.
// A wider string is returned as-is.
func FullWidth(s string, width int) string {
	visLen := lipgloss.Width(s)
	if visLen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visLen)
}
