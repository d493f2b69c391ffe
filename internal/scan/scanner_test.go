package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/sink"
)

func scanTree(t *testing.T, path string, cfg Config) *model.Tree {
	t.Helper()
	b := model.NewBuilder()
	if err := New(cfg).Scan(context.Background(), path, b, nil); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return b.Tree()
}

func child(tr *model.Tree, names ...string) *model.Entry {
	cur := tr.Root
	for _, name := range names {
		if cur == nil || cur.Dir == nil {
			return nil
		}
		var found *model.Entry
		for e := cur.Dir.FirstChild; e != nil; e = e.Next {
			if string(e.Name()) == name {
				found = e
				break
			}
		}
		cur = found
	}
	return cur
}

// fileBlocks returns the 512-byte block count the filesystem actually
// allocated; sparse and extent-based filesystems differ, so tests compare
// against this instead of assuming 8 blocks per 4 KiB.
func fileBlocks(t *testing.T, path string) uint64 {
	t.Helper()
	st, _, err := lstatEntry(path, false)
	if err != nil {
		t.Fatal(err)
	}
	return st.Blocks
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanEmptyDir(t *testing.T) {
	tr := scanTree(t, t.TempDir(), DefaultConfig())
	root := tr.Root
	if root == nil || root.Kind != sink.KindDir {
		t.Fatal("no root directory")
	}
	if root.Dir.Items != 0 || root.Blocks != 0 || root.Size != 0 {
		t.Errorf("empty dir totals = (%d, %d, %d), want all zero",
			root.Dir.Items, root.Blocks, root.Size)
	}
	if root.Dir.FirstChild != nil {
		t.Error("empty dir has children")
	}
}

func TestScanSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), 4096)
	blocks := fileBlocks(t, filepath.Join(dir, "f"))

	tr := scanTree(t, dir, DefaultConfig())
	root := tr.Root
	if root.Size != 4096 || root.Blocks != blocks || root.Dir.Items != 1 {
		t.Errorf("root totals = (%d, %d, %d), want (4096, %d, 1)",
			root.Size, root.Blocks, root.Dir.Items, blocks)
	}
	f := child(tr, "f")
	if f == nil || f.Kind != sink.KindFile {
		t.Fatal("file entry missing")
	}
	if f.Size != 4096 || f.Blocks != blocks || f.Flags&model.FlagNotReg != 0 {
		t.Errorf("file entry = (%d, %d, notreg=%v), want (4096, %d, false)",
			f.Size, f.Blocks, f.Flags&model.FlagNotReg != 0, blocks)
	}
}

func TestScanRootName(t *testing.T) {
	dir := t.TempDir()
	tr := scanTree(t, dir, DefaultConfig())
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(tr.Root.Name()); got != resolved {
		t.Errorf("root name = %q, want absolute %q", got, resolved)
	}
}

func TestScanHardlinksContained(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(dir, "a", "f1"), 4096)
	if err := os.Link(filepath.Join(dir, "a", "f1"), filepath.Join(dir, "b", "f2")); err != nil {
		t.Skipf("hard links not supported here: %v", err)
	}
	blocks := fileBlocks(t, filepath.Join(dir, "a", "f1"))

	tr := scanTree(t, dir, DefaultConfig())
	root := tr.Root

	if root.Blocks != blocks || root.Size != 4096 {
		t.Errorf("root totals = (%d, %d), want the inode counted once (%d, 4096)",
			root.Blocks, root.Size, blocks)
	}
	if root.Dir.SharedBlocks != 0 {
		t.Errorf("root shared = %d, want 0: both names inside the tree", root.Dir.SharedBlocks)
	}

	f1 := child(tr, "a", "f1")
	if f1 == nil || f1.Kind != sink.KindLink || f1.Nlink != 2 {
		t.Fatalf("f1 = %+v, want a link with nlink 2", f1)
	}
	a := child(tr, "a")
	if a.Dir.SharedBlocks != blocks {
		t.Errorf("a shared = %d, want %d: the peer lives in b", a.Dir.SharedBlocks, blocks)
	}
}

func TestScanHardlinkPeerExcluded(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(dir, "a", "f1"), 4096)
	if err := os.Link(filepath.Join(dir, "a", "f1"), filepath.Join(dir, "b", "f2")); err != nil {
		t.Skipf("hard links not supported here: %v", err)
	}
	blocks := fileBlocks(t, filepath.Join(dir, "a", "f1"))

	cfg := DefaultConfig()
	cfg.ExcludePatterns = []string{"b"}
	tr := scanTree(t, dir, cfg)
	root := tr.Root

	if root.Blocks != blocks {
		t.Errorf("root blocks = %d, want %d", root.Blocks, blocks)
	}
	// Only one of two names is inside the visible tree.
	if root.Dir.SharedBlocks != blocks {
		t.Errorf("root shared = %d, want %d", root.Dir.SharedBlocks, blocks)
	}
	b := child(tr, "b")
	if b == nil || b.SpecialKind() != sink.SpecialExcluded || b.Kind != sink.KindFile {
		t.Errorf("excluded dir = %+v, want an excluded file placeholder", b)
	}
}

func TestScanExcludePattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.txt"), 100)
	writeFile(t, filepath.Join(dir, "drop.tmp"), 100)

	cfg := DefaultConfig()
	cfg.ExcludePatterns = []string{"*.tmp"}
	tr := scanTree(t, dir, cfg)

	if tr.Root.Size != 100 {
		t.Errorf("root size = %d, want only the kept file's 100", tr.Root.Size)
	}
	drop := child(tr, "drop.tmp")
	if drop == nil || drop.SpecialKind() != sink.SpecialExcluded {
		t.Error("excluded file not recorded as a placeholder")
	}
	if drop.Size != 0 || drop.Blocks != 0 {
		t.Error("excluded file carries sizes")
	}
}

func TestScanCachedirTag(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	if err := os.Mkdir(cache, 0o755); err != nil {
		t.Fatal(err)
	}
	sig := "Signature: 8a477f597d28d172789f06886806bc55\n# more text\n"
	if err := os.WriteFile(filepath.Join(cache, "CACHEDIR.TAG"), []byte(sig), 0o644); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(cache, "payload"), 8192)

	cfg := DefaultConfig()
	cfg.ExcludeCaches = true
	tr := scanTree(t, dir, cfg)

	c := child(tr, "cache")
	if c == nil || c.Kind != sink.KindDir {
		if c == nil || c.SpecialKind() != sink.SpecialExcluded {
			t.Fatalf("cache dir = %+v, want an excluded placeholder", c)
		}
	}
	if c.Kind != sink.KindFile {
		t.Error("tagged cache dir was descended into")
	}
	if tr.Root.Size != 0 {
		t.Errorf("root size = %d, want 0: cache contents skipped", tr.Root.Size)
	}

	// Without the option the tag is ignored.
	tr = scanTree(t, dir, DefaultConfig())
	if child(tr, "cache", "payload") == nil {
		t.Error("cache dir skipped without --exclude-caches")
	}
}

func TestScanCachedirTagBadSignature(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	if err := os.Mkdir(cache, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cache, "CACHEDIR.TAG"), []byte("Signature: not-a-cache"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(cache, "payload"), 100)

	cfg := DefaultConfig()
	cfg.ExcludeCaches = true
	tr := scanTree(t, dir, cfg)
	if child(tr, "cache", "payload") == nil {
		t.Error("dir with invalid tag signature was skipped")
	}
}

func TestScanSymlink(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "target"), 4096)
	if err := os.Symlink("target", filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks not supported here: %v", err)
	}

	tr := scanTree(t, dir, DefaultConfig())
	link := child(tr, "link")
	if link == nil || link.Flags&model.FlagNotReg == 0 {
		t.Error("unfollowed symlink should be a non-regular leaf")
	}

	cfg := DefaultConfig()
	cfg.FollowSymlinks = true
	tr = scanTree(t, dir, cfg)
	link = child(tr, "link")
	if link == nil || link.Size != 4096 {
		t.Errorf("followed symlink size = %d, want target's 4096", link.Size)
	}
}

func TestScanNotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), 1)

	b := model.NewBuilder()
	err := New(DefaultConfig()).Scan(context.Background(), filepath.Join(dir, "f"), b, nil)
	if err == nil {
		t.Fatal("scanning a file must fail")
	}
}

func TestScanUnreadableDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root, permissions are not enforced")
	}
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	if err := os.Mkdir(locked, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(locked, "hidden"), 100)
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(locked, 0o755)

	tr := scanTree(t, dir, DefaultConfig())
	l := child(tr, "locked")
	if l == nil || !l.Err() {
		t.Error("unreadable dir not flagged")
	}
	if !tr.Root.Suberr() {
		t.Error("read error not propagated to root")
	}
}

func TestScanCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := model.NewBuilder()
	err := New(DefaultConfig()).Scan(ctx, dir, b, nil)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScanProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), 100)

	progress := make(chan Progress, 64)
	b := model.NewBuilder()
	if err := New(DefaultConfig()).Scan(context.Background(), dir, b, progress); err != nil {
		t.Fatal(err)
	}
	close(progress)

	var last Progress
	var any bool
	for p := range progress {
		last = p
		any = true
	}
	if !any {
		t.Fatal("no progress updates")
	}
	if !last.Done || last.Files != 1 {
		t.Errorf("final progress = %+v, want Done with 1 file", last)
	}
}
