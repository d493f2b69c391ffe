package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/ops"
	"github.com/ozanb/duv/internal/remote"
	"github.com/ozanb/duv/internal/scan"
	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/ui/components"
	"github.com/ozanb/duv/internal/ui/style"
)

// AppState represents the application state.
type AppState int

const (
	StateScanning AppState = iota
	StateBrowsing
	StateConfirmDelete
	StateHelp
	StateExporting
)

// ScanDoneMsg is sent when scanning or importing completes.
type ScanDoneMsg struct {
	Tree *model.Tree
	Err  error
}

// DeleteDoneMsg is sent when deletion completes.
type DeleteDoneMsg struct {
	Deleted []*model.Entry
	Errors  []error
}

// ExportDoneMsg is sent when export completes.
type ExportDoneMsg struct {
	Path string
	Err  error
}

type tickMsg time.Time

// App is the root Bubble Tea model.
type App struct {
	ScanPath   string
	ScanConfig scan.Config
	ImportPath string
	Remote     *remote.Config
	ExportPath string
	Version    string

	state  AppState
	width  int
	height int

	tree       *model.Tree
	currentDir *model.Entry
	items      []*model.Entry
	sortConfig model.SortConfig

	cursor int
	offset int

	marked       map[*model.Entry]bool
	confirmItems []components.ConfirmItem

	useApparent bool
	showHidden  bool
	readonly    bool

	scanProgress   scan.Progress
	progressMu     sync.Mutex
	latestProgress scan.Progress
	scanCancel     context.CancelFunc
	scanCancelMu   sync.Mutex

	theme  style.Theme
	keys   KeyMap
	layout style.Layout

	statusMsg string
	fatalErr  error
}

func newApp() *App {
	return &App{
		state:      StateScanning,
		sortConfig: model.DefaultSort(),
		marked:     make(map[*model.Entry]bool),
		showHidden: true,
		theme:      style.DefaultTheme(),
		keys:       DefaultKeyMap(),
	}
}

// NewApp creates an App that scans a local path.
func NewApp(scanPath string, cfg scan.Config) *App {
	a := newApp()
	a.ScanPath = scanPath
	a.ScanConfig = cfg
	return a
}

// NewAppFromImport creates an App that loads a dump. Deleting is
// disabled: the dump may describe another machine or an earlier state.
func NewAppFromImport(importPath string) *App {
	a := newApp()
	a.ImportPath = importPath
	a.readonly = true
	return a
}

// NewAppFromRemote creates an App that scans over SFTP. Deleting is
// disabled for remote trees.
func NewAppFromRemote(cfg remote.Config, remotePath string, scfg scan.Config) *App {
	a := newApp()
	a.Remote = &cfg
	a.ScanPath = remotePath
	a.ScanConfig = scfg
	a.readonly = true
	return a
}

func (a *App) setScanCancel(cancel context.CancelFunc) {
	a.scanCancelMu.Lock()
	a.scanCancel = cancel
	a.scanCancelMu.Unlock()
}

func (a *App) callScanCancel() {
	a.scanCancelMu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
	}
	a.scanCancelMu.Unlock()
}

func (a *App) Init() tea.Cmd {
	if a.ImportPath != "" {
		return a.importCmd()
	}
	return tea.Batch(a.scanCmd(), a.tickCmd())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout = style.NewLayout(msg.Width, msg.Height)
		return a, nil

	case ScanDoneMsg:
		if msg.Err != nil {
			a.fatalErr = msg.Err
			return a, tea.Quit
		}
		a.fatalErr = nil
		a.tree = msg.Tree
		a.currentDir = msg.Tree.Root
		a.cursor = 0
		a.offset = 0
		a.state = StateBrowsing
		a.refreshItems()
		return a, tea.ClearScreen

	case tickMsg:
		if a.state == StateScanning {
			a.progressMu.Lock()
			a.scanProgress = a.latestProgress
			a.progressMu.Unlock()
			return a, a.tickCmd()
		}
		return a, nil

	case DeleteDoneMsg:
		for _, e := range msg.Deleted {
			a.tree.Remove(e)
		}
		a.state = StateBrowsing
		a.clearMarks()
		a.refreshItems()
		if a.cursor >= len(a.items) {
			a.cursor = len(a.items) - 1
		}
		if a.cursor < 0 {
			a.cursor = 0
		}
		if len(msg.Errors) > 0 {
			a.statusMsg = fmt.Sprintf("Delete: %d failed (%v)", len(msg.Errors), msg.Errors[0])
		} else if len(msg.Deleted) > 0 {
			a.statusMsg = fmt.Sprintf("Deleted %d item(s)", len(msg.Deleted))
		}
		return a, tea.ClearScreen

	case ExportDoneMsg:
		a.state = StateBrowsing
		if msg.Err != nil {
			a.statusMsg = fmt.Sprintf("Export failed: %v", msg.Err)
		} else {
			a.statusMsg = fmt.Sprintf("Exported to %s", msg.Path)
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, a.keys.ForceQuit) {
		a.callScanCancel()
		return a, tea.Quit
	}

	switch a.state {
	case StateScanning:
		if key.Matches(msg, a.keys.Quit) {
			a.callScanCancel()
			return a, tea.Quit
		}
		return a, nil

	case StateHelp:
		if key.Matches(msg, a.keys.Help) || msg.String() == "esc" {
			a.state = StateBrowsing
			return a, tea.ClearScreen
		}
		return a, nil

	case StateConfirmDelete:
		if key.Matches(msg, a.keys.ConfirmYes) {
			return a, a.executeDelete()
		}
		if key.Matches(msg, a.keys.ConfirmNo) {
			a.state = StateBrowsing
			return a, tea.ClearScreen
		}
		return a, nil

	case StateBrowsing:
		return a.handleBrowsingKey(msg)
	}

	return a, nil
}

func (a *App) handleBrowsingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a.statusMsg = ""
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.Help):
		a.state = StateHelp
		return a, tea.ClearScreen

	case key.Matches(msg, a.keys.Up):
		a.moveCursor(-1)
	case key.Matches(msg, a.keys.Down):
		a.moveCursor(1)
	case key.Matches(msg, a.keys.Enter), key.Matches(msg, a.keys.Right):
		a.enterDir()
	case key.Matches(msg, a.keys.Left), key.Matches(msg, a.keys.Back):
		a.goBack()

	case key.Matches(msg, a.keys.SortSize):
		a.toggleSort(model.SortBySize)
	case key.Matches(msg, a.keys.SortName):
		a.toggleSort(model.SortByName)
	case key.Matches(msg, a.keys.SortItems):
		a.toggleSort(model.SortByItems)
	case key.Matches(msg, a.keys.SortMtime):
		a.toggleSort(model.SortByMtime)

	case key.Matches(msg, a.keys.ToggleApparent):
		a.useApparent = !a.useApparent
		a.refreshItems()
	case key.Matches(msg, a.keys.ToggleHidden):
		a.showHidden = !a.showHidden
		a.clearMarks()
		a.refreshItems()

	case key.Matches(msg, a.keys.Mark):
		a.toggleMark()

	case key.Matches(msg, a.keys.Delete):
		cmd := a.prepareDelete()
		if a.state == StateConfirmDelete {
			return a, tea.Batch(cmd, tea.ClearScreen)
		}
		return a, cmd

	case key.Matches(msg, a.keys.Export):
		return a, a.exportCmd()

	case key.Matches(msg, a.keys.Rescan):
		if a.ImportPath != "" {
			a.statusMsg = "Rescan is not available for imported dumps"
			return a, nil
		}
		a.clearMarks()
		a.cursor = 0
		a.offset = 0
		a.state = StateScanning
		return a, tea.Batch(tea.ClearScreen, a.scanCmd(), a.tickCmd())
	}

	return a, nil
}

func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	switch a.state {
	case StateScanning:
		return components.RenderScanProgress(a.theme, a.scanProgress, a.width, a.height)
	case StateHelp:
		return components.RenderHelp(a.theme, a.width, a.height)
	case StateConfirmDelete:
		return components.RenderConfirmDialog(a.theme, a.confirmItems, a.width, a.height)
	case StateBrowsing, StateExporting:
		return a.renderBrowsing()
	}
	return ""
}

func (a *App) renderBrowsing() string {
	header := components.RenderHeader(a.theme, a.tree.Root, a.useApparent, a.width)
	breadcrumb := components.RenderBreadcrumb(a.theme, a.currentDir, a.width)

	tv := &components.TreeView{
		Theme:       a.theme,
		Layout:      a.layout,
		Items:       a.items,
		Cursor:      a.cursor,
		Offset:      a.offset,
		Marked:      a.marked,
		UseApparent: a.useApparent,
		ParentSize:  a.parentSize(),
	}
	tv.EnsureVisible()
	a.offset = tv.Offset
	content := tv.Render()

	info := components.StatusInfo{
		CurrentDir:  a.currentDir,
		ItemCount:   len(a.items),
		MarkedCount: len(a.marked),
		MarkedSize:  a.markedSize(),
		UseApparent: a.useApparent,
		Message:     a.statusMsg,
	}
	statusBar := components.RenderStatusBar(a.theme, info, a.width)

	return header + "\n" + breadcrumb + "\n" + content + "\n" + statusBar
}

func (a *App) moveCursor(delta int) {
	a.cursor += delta
	if a.cursor >= len(a.items) {
		a.cursor = len(a.items) - 1
	}
	if a.cursor < 0 {
		a.cursor = 0
	}
}

func (a *App) enterDir() {
	if a.cursor >= len(a.items) {
		return
	}
	e := a.items[a.cursor]
	if e.Kind != sink.KindDir {
		return
	}
	a.currentDir = e
	a.cursor = 0
	a.offset = 0
	a.clearMarks()
	a.refreshItems()
}

func (a *App) goBack() {
	if a.currentDir == nil || a.currentDir.Parent == nil {
		return
	}
	leaving := a.currentDir
	a.currentDir = a.currentDir.Parent
	a.clearMarks()
	a.refreshItems()

	a.cursor = 0
	for i, e := range a.items {
		if e == leaving {
			a.cursor = i
			break
		}
	}
	a.offset = 0
}

func (a *App) toggleSort(field model.SortField) {
	if a.sortConfig.Field == field {
		if a.sortConfig.Order == model.SortDesc {
			a.sortConfig.Order = model.SortAsc
		} else {
			a.sortConfig.Order = model.SortDesc
		}
	} else {
		a.sortConfig.Field = field
		a.sortConfig.Order = model.SortDesc
	}
	a.refreshItems()
}

func (a *App) toggleMark() {
	if a.cursor >= len(a.items) {
		return
	}
	e := a.items[a.cursor]
	if a.marked[e] {
		delete(a.marked, e)
	} else {
		a.marked[e] = true
	}
	a.moveCursor(1)
}

func (a *App) clearMarks() {
	a.marked = make(map[*model.Entry]bool)
}

func (a *App) refreshItems() {
	if a.currentDir == nil {
		a.items = nil
		return
	}
	items := model.Children(a.currentDir)

	if !a.showHidden {
		var filtered []*model.Entry
		for _, e := range items {
			if name := e.Name(); len(name) > 0 && name[0] != '.' {
				filtered = append(filtered, e)
			}
		}
		items = filtered
	}

	model.SortEntries(items, a.sortConfig, a.useApparent)
	a.items = items
}

func (a *App) parentSize() uint64 {
	if a.currentDir == nil {
		return 0
	}
	if a.useApparent {
		return a.currentDir.Size
	}
	return a.currentDir.Bytes()
}

func (a *App) markedSize() uint64 {
	var total uint64
	for e := range a.marked {
		if a.useApparent {
			total += e.Size
		} else {
			total += e.Bytes()
		}
	}
	return total
}

// scanCmd runs the scan in a background goroutine; the tree is published
// to the UI only once, through ScanDoneMsg, after the scan finished.
func (a *App) scanCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		a.setScanCancel(cancel)

		progressCh := make(chan scan.Progress, 16)
		go func() {
			for p := range progressCh {
				a.progressMu.Lock()
				a.latestProgress = p
				a.progressMu.Unlock()
			}
		}()

		b := model.NewBuilder()
		var err error
		if a.Remote != nil {
			err = remote.NewScanner(*a.Remote, a.ScanConfig).Scan(ctx, a.ScanPath, b, progressCh)
		} else {
			err = scan.New(a.ScanConfig).Scan(ctx, a.ScanPath, b, progressCh)
		}
		close(progressCh)

		return ScanDoneMsg{Tree: b.Tree(), Err: err}
	}
}

func (a *App) importCmd() tea.Cmd {
	return func() tea.Msg {
		b := model.NewBuilder()
		if err := ops.Import(a.ImportPath, b); err != nil {
			return ScanDoneMsg{Err: err}
		}
		return ScanDoneMsg{Tree: b.Tree()}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) prepareDelete() tea.Cmd {
	if a.readonly {
		a.statusMsg = "Delete is disabled for imported and remote trees"
		return nil
	}
	if a.currentDir == nil {
		return nil
	}

	var items []components.ConfirmItem
	if len(a.marked) > 0 {
		for _, e := range a.items {
			if a.marked[e] {
				items = append(items, components.ConfirmItem{Entry: e, Path: model.Path(e)})
			}
		}
	} else if a.cursor < len(a.items) {
		e := a.items[a.cursor]
		items = append(items, components.ConfirmItem{Entry: e, Path: model.Path(e)})
	}
	if len(items) == 0 {
		return nil
	}

	a.confirmItems = items
	a.state = StateConfirmDelete
	return nil
}

// executeDelete removes the confirmed items from disk in the background.
// The tree itself is updated on DeleteDoneMsg, on the UI goroutine.
func (a *App) executeDelete() tea.Cmd {
	items := a.confirmItems
	rootPath := model.Path(a.tree.Root)

	return func() tea.Msg {
		var deleted []*model.Entry
		var errs []error
		for _, item := range items {
			if err := ops.Delete(item.Path, rootPath); err != nil {
				errs = append(errs, err)
			} else {
				deleted = append(deleted, item.Entry)
			}
		}
		return DeleteDoneMsg{Deleted: deleted, Errors: errs}
	}
}

func (a *App) exportCmd() tea.Cmd {
	if a.tree == nil {
		return nil
	}
	exportPath := a.ExportPath
	if exportPath == "" {
		exportPath = "duv-export.json"
	}

	a.state = StateExporting
	tree := a.tree
	version := a.Version
	return func() tea.Msg {
		err := ops.ExportFile(tree, exportPath, version)
		return ExportDoneMsg{Path: exportPath, Err: err}
	}
}

// FatalError returns a fatal scan/import error, if any.
func (a *App) FatalError() error { return a.fatalErr }
