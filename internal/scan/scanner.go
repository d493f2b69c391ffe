package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

// ErrNotDirectory is returned when the scan root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Config configures the scanner behavior, see the command-line flags of
// the same names.
type Config struct {
	// SameFS skips entries whose device differs from their parent's.
	SameFS bool
	// FollowSymlinks resolves symlinks whose target is not a directory.
	FollowSymlinks bool
	// ExcludeCaches skips directories tagged with a valid CACHEDIR.TAG.
	ExcludeCaches bool
	// ExcludeKernfs skips kernel pseudo-filesystems (Linux only).
	ExcludeKernfs bool
	// ExcludePatterns are fnmatch globs tried against every path suffix.
	ExcludePatterns []string
	// Extended captures uid/gid/mode/mtime per entry.
	Extended bool
}

// DefaultConfig returns the zero configuration: scan everything.
func DefaultConfig() Config { return Config{} }

// Scanner walks a directory tree depth-first on a single goroutine and
// feeds every entry to a sink. Progress updates are pushed non-blocking
// at each directory entry, which is also the cancellation granularity.
type Scanner struct {
	cfg      Config
	snk      sink.Sink
	progress chan<- Progress

	dirs, files, errs uint64
	bytes             uint64
	kernfs            map[uint64]bool // per-device statfs verdict
}

// New creates a scanner with the given configuration.
func New(cfg Config) *Scanner {
	return &Scanner{cfg: cfg, kernfs: make(map[uint64]bool)}
}

const cachedirSig = "Signature: 8a477f597d28d172789f06886806bc55"

// Scan resolves path, walks it, and pushes every entry into snk. Per-entry
// failures are recorded on the offending node and never abort the walk;
// only a bad root or context cancellation returns an error.
func (s *Scanner) Scan(ctx context.Context, path string, snk sink.Sink, progress chan<- Progress) error {
	s.snk = snk
	s.progress = progress

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// Stat, not Lstat: a symlinked root like /tmp -> /private/tmp is fine.
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", abs, ErrNotDirectory)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	st, err := statEntry(abs, s.cfg.Extended)
	if err != nil {
		return err
	}
	f, err := openDir(abs)
	if err != nil {
		return err
	}

	snk.Push([]byte(abs))
	snk.Stat(&st)
	walkErr := s.walk(ctx, f, abs, st.Dev)
	snk.Leave()
	if walkErr != nil {
		return walkErr
	}

	if err := snk.Final(); err != nil {
		return err
	}
	s.send(abs, true)
	return nil
}

// walk iterates the open directory f, emitting each entry and recursing
// into subdirectories. It closes f on every path out.
func (s *Scanner) walk(ctx context.Context, f *os.File, dirPath string, dev uint64) error {
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		s.errs++
		s.snk.ListingError()
		return nil
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(dirPath, name)
		s.send(full, false)

		if len(s.cfg.ExcludePatterns) > 0 && util.MatchPathSuffix(s.cfg.ExcludePatterns, full) {
			s.special(name, sink.SpecialExcluded)
			continue
		}

		st, isLink, err := lstatEntry(full, s.cfg.Extended)
		if err != nil {
			s.errs++
			s.special(name, sink.SpecialErr)
			continue
		}
		if s.cfg.SameFS && st.Dev != dev {
			s.special(name, sink.SpecialOtherFS)
			continue
		}
		if s.cfg.FollowSymlinks && isLink {
			if followed, err := statEntry(full, s.cfg.Extended); err == nil && !followed.Dir {
				// Counting the target per symlink path can double-count a
				// multi-linked file reached from another device; forcing
				// nlink=1 keeps each sighting independent.
				if followed.Nlink >= 2 && followed.Dev != dev {
					followed.Nlink = 1
					followed.Hlinkc = false
				}
				st = followed
			}
		}

		if !st.Dir {
			s.files++
			s.bytes += st.Size
			s.snk.Push([]byte(name))
			s.snk.Stat(&st)
			continue
		}

		sub, err := openDir(full)
		if err != nil {
			s.errs++
			s.special(name, sink.SpecialErr)
			continue
		}
		if s.cfg.ExcludeKernfs && s.isKernfsCached(sub, st.Dev) {
			sub.Close()
			s.special(name, sink.SpecialKernfs)
			continue
		}
		if s.cfg.ExcludeCaches && hasCachedirTag(full) {
			sub.Close()
			s.special(name, sink.SpecialExcluded)
			continue
		}

		s.dirs++
		s.snk.Push([]byte(name))
		s.snk.Stat(&st)
		err = s.walk(ctx, sub, full, st.Dev)
		s.snk.Leave()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) special(name string, kind sink.Special) {
	s.snk.Push([]byte(name))
	s.snk.Special(kind)
}

func (s *Scanner) isKernfsCached(f *os.File, dev uint64) bool {
	if verdict, ok := s.kernfs[dev]; ok {
		return verdict
	}
	verdict := isKernfs(f)
	s.kernfs[dev] = verdict
	return verdict
}

// hasCachedirTag reports whether dir contains a CACHEDIR.TAG with the
// well-known signature as its first 43 bytes.
func hasCachedirTag(dir string) bool {
	f, err := os.Open(filepath.Join(dir, "CACHEDIR.TAG"))
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(cachedirSig))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return string(buf) == cachedirSig
}
