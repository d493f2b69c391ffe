package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ozanb/duv/internal/ops"
	"github.com/ozanb/duv/internal/remote"
	"github.com/ozanb/duv/internal/scan"
	"github.com/ozanb/duv/internal/ui"
)

var version = "dev"

const defaultSSHPort = 22

type options struct {
	exportPath string
	importPath string

	sameFS         bool
	followSymlinks bool
	excludeCaches  bool
	excludeKernfs  bool
	extended       bool
	exclude        []string

	sshPort        int
	sshBatch       bool
	sshTimeout     int
	sshScanTimeout int
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:     "duv [path | user@host [remote-path]]",
		Short:   "Interactive disk usage analyzer",
		Long:    "duv walks a directory tree, aggregates disk usage with hard-link awareness,\nand lets you browse the result in a terminal UI. Scans can be exported to and\nimported from ncdu-compatible JSON dumps, and remote trees can be scanned\nover SFTP.",
		Version: version,
		Args:    cobra.MaximumNArgs(2),
		Example: `  duv .                        Scan the current directory
  duv -x /                     Scan / without crossing filesystems
  duv -o scan.json.gz /home    Export a compressed dump, no UI
  duv -f scan.json.gz          Browse an exported dump
  duv --exclude '*.o' src      Scan with an exclude pattern
  duv user@host /var/log       Scan a remote directory over SFTP`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	fl := root.Flags()
	fl.StringVarP(&opts.exportPath, "export", "o", "", "export the scan as a JSON dump (no UI; '-' for stdout, '.gz' compresses)")
	fl.StringVarP(&opts.importPath, "import", "f", "", "browse a previously exported dump ('-' for stdin)")
	fl.BoolVarP(&opts.sameFS, "one-file-system", "x", false, "do not cross filesystem boundaries")
	fl.BoolVarP(&opts.followSymlinks, "follow-symlinks", "L", false, "follow symlinks to non-directories")
	fl.BoolVar(&opts.excludeCaches, "exclude-caches", false, "skip directories tagged with CACHEDIR.TAG")
	fl.BoolVar(&opts.excludeKernfs, "exclude-kernfs", false, "skip kernel pseudo-filesystems like /proc and /sys (Linux)")
	fl.StringArrayVar(&opts.exclude, "exclude", nil, "exclude entries matching this glob (repeatable)")
	fl.BoolVarP(&opts.extended, "extended", "e", false, "record uid/gid/mode/mtime per entry")
	fl.IntVar(&opts.sshPort, "ssh-port", defaultSSHPort, "SSH port for remote scans")
	fl.BoolVar(&opts.sshBatch, "ssh-batch", false, "disable SSH prompts (key/agent auth only)")
	fl.IntVar(&opts.sshTimeout, "ssh-timeout", 15, "SSH connection timeout in seconds")
	fl.IntVar(&opts.sshScanTimeout, "ssh-scan-timeout", 0, "remote scan timeout in seconds (0 = no limit)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options, args []string) error {
	if opts.sshPort < 1 || opts.sshPort > 65535 {
		return fmt.Errorf("ssh-port must be between 1 and 65535")
	}

	cfg := scan.Config{
		SameFS:          opts.sameFS,
		FollowSymlinks:  opts.followSymlinks,
		ExcludeCaches:   opts.excludeCaches,
		ExcludeKernfs:   opts.excludeKernfs,
		ExcludePatterns: opts.exclude,
		Extended:        opts.extended,
	}

	if opts.importPath != "" {
		if len(args) > 0 {
			return fmt.Errorf("--import cannot be combined with a scan target")
		}
		if opts.exportPath != "" {
			// Re-export: stream the importer straight into the exporter.
			x, err := ops.NewExporter(opts.exportPath, version)
			if err != nil {
				return err
			}
			if err := ops.Import(opts.importPath, x); err != nil {
				x.Discard()
				return err
			}
			exportDone(opts.exportPath)
			return nil
		}
		return runTUI(ui.NewAppFromImport(opts.importPath))
	}

	target, err := resolveTarget(args)
	if err != nil {
		return err
	}

	if target.remote {
		rcfg := remote.Config{
			Target:    target.destination,
			Port:      opts.sshPort,
			BatchMode: opts.sshBatch,
			Timeout:   time.Duration(opts.sshTimeout) * time.Second,
		}
		if opts.sshScanTimeout > 0 {
			rcfg.ScanTimeout = time.Duration(opts.sshScanTimeout) * time.Second
		}
		if opts.exportPath != "" {
			err := headlessExport(opts.exportPath, cfg, func(ctx context.Context, snk *ops.Exporter, progress chan scan.Progress) error {
				return remote.NewScanner(rcfg, cfg).Scan(ctx, target.path, snk, progress)
			})
			if err != nil {
				return err
			}
			exportDone(opts.exportPath)
			return nil
		}
		return runTUI(ui.NewAppFromRemote(rcfg, target.path, cfg))
	}

	absPath, err := filepath.Abs(target.path)
	if err != nil {
		return err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", absPath, scan.ErrNotDirectory)
	}

	if opts.exportPath != "" {
		err := headlessExport(opts.exportPath, cfg, func(ctx context.Context, snk *ops.Exporter, progress chan scan.Progress) error {
			return scan.New(cfg).Scan(ctx, absPath, snk, progress)
		})
		if err != nil {
			return err
		}
		exportDone(opts.exportPath)
		return nil
	}

	app := ui.NewApp(absPath, cfg)
	app.ExportPath = "duv-export.json"
	return runTUI(app)
}

func runTUI(app *ui.App) error {
	app.Version = version
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return app.FatalError()
}

// headlessExport streams a scan into a dump without a UI, reporting
// progress on stderr.
func headlessExport(exportPath string, cfg scan.Config, scanFn func(context.Context, *ops.Exporter, chan scan.Progress) error) error {
	x, err := ops.NewExporter(exportPath, version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	progressCh := make(chan scan.Progress, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		last := time.Now()
		for p := range progressCh {
			if p.Done || time.Since(last) >= 100*time.Millisecond {
				last = time.Now()
				fmt.Fprintf(os.Stderr, "\r%d dirs, %d files, %d errors...", p.Dirs, p.Files, p.Errors)
			}
		}
		fmt.Fprintln(os.Stderr)
	}()

	err = scanFn(ctx, x, progressCh)
	close(progressCh)
	wg.Wait()
	if err != nil {
		x.Discard()
		return err
	}
	return nil
}

func exportDone(exportPath string) {
	if exportPath != "-" {
		fmt.Printf("Exported to %s\n", exportPath)
	}
}

type scanTarget struct {
	remote      bool
	destination string // user@host
	path        string
}

func resolveTarget(args []string) (scanTarget, error) {
	if len(args) == 0 {
		return scanTarget{path: "."}, nil
	}

	first := args[0]
	if pathExists(first) {
		if len(args) > 1 {
			return scanTarget{}, fmt.Errorf("too many arguments for a local scan")
		}
		return scanTarget{path: first}, nil
	}

	if isRemote, err := validateRemoteTarget(first); isRemote {
		if err != nil {
			return scanTarget{}, err
		}
		remotePath := "."
		if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
			remotePath = args[1]
		}
		return scanTarget{remote: true, destination: first, path: remotePath}, nil
	}

	if len(args) > 1 {
		return scanTarget{}, fmt.Errorf("too many arguments")
	}
	return scanTarget{path: first}, nil
}

// validateRemoteTarget reports whether raw looks like user@host, and if
// so whether it is well-formed.
func validateRemoteTarget(raw string) (bool, error) {
	if strings.ContainsAny(raw, `/\`) {
		return false, nil
	}
	if strings.Count(raw, "@") != 1 {
		return false, nil
	}

	user, host, _ := strings.Cut(raw, "@")
	if user == "" || host == "" {
		return true, fmt.Errorf("invalid remote target %q: expected user@host", raw)
	}
	if strings.HasPrefix(user, "-") || strings.HasPrefix(host, "-") {
		return true, fmt.Errorf("invalid remote target %q", raw)
	}
	if strings.ContainsAny(raw, " \t\n\r") {
		return true, fmt.Errorf("invalid remote target %q: spaces are not allowed", raw)
	}
	if strings.HasPrefix(host, "[") {
		end := strings.Index(host, "]")
		if end <= 1 || end != len(host)-1 {
			return true, fmt.Errorf("invalid remote target %q: malformed bracketed host", raw)
		}
	} else if strings.Contains(host, "]") {
		return true, fmt.Errorf("invalid remote target %q: malformed bracketed host", raw)
	} else if looksLikeHostPort(host) {
		return true, fmt.Errorf("remote target %q must not include :port; use --ssh-port", raw)
	}
	return true, nil
}

func looksLikeHostPort(host string) bool {
	if strings.Count(host, ":") != 1 {
		return false
	}
	_, port, _ := strings.Cut(host, ":")
	if port == "" {
		return false
	}
	for _, r := range port {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
