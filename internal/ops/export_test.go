package ops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/sink"
)

// buildSample builds {root -> a(dir) -> b(file), link pair, special}.
func buildSample(t *testing.T) *model.Tree {
	t.Helper()
	b := model.NewBuilder()
	b.Push([]byte("/data"))
	b.Stat(&sink.Stat{Dir: true, Dev: 2049, Blocks: 8, Size: 4096})
	b.Push([]byte("a"))
	b.Stat(&sink.Stat{Dir: true, Dev: 2049, Blocks: 2, Size: 1024})
	b.Push([]byte("b"))
	b.Stat(&sink.Stat{Size: 100, Blocks: 1})
	b.Push([]byte("l1"))
	b.Stat(&sink.Stat{Size: 200, Blocks: 2, Ino: 7, Nlink: 2, Hlinkc: true})
	b.Push([]byte("l2"))
	b.Stat(&sink.Stat{Size: 200, Blocks: 2, Ino: 7, Nlink: 2, Hlinkc: true})
	b.Leave()
	b.Push([]byte("sock"))
	b.Stat(&sink.Stat{Size: 0, Blocks: 0, NotReg: true})
	b.Push([]byte("denied"))
	b.Special(sink.SpecialErr)
	b.Push([]byte("proc"))
	b.Special(sink.SpecialKernfs)
	b.Leave()
	if err := b.Final(); err != nil {
		t.Fatal(err)
	}
	return b.Tree()
}

func exportToString(t *testing.T, tr *model.Tree) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.json")
	if err := ExportFile(tr, path, "test"); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestExportShape(t *testing.T) {
	out := exportToString(t, buildSample(t))

	if !strings.HasPrefix(out, `[1,2,{"progname":"duv"`) {
		t.Errorf("bad header: %.60s", out)
	}
	for _, want := range []string{
		`{"name":"/data"`,
		`"dev":2049`,
		`{"name":"b","asize":100,"dsize":512}`,
		`"ino":7,"hlnkc":true,"nlink":2`,
		`{"name":"sock","notreg":true}`,
		`{"name":"denied","read_error":true}`,
		`{"name":"proc","excluded":"kernfs"}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %s\nin: %s", want, out)
		}
	}
	// dev equal to the parent's is omitted on subdirectories.
	if strings.Count(out, `"dev":2049`) != 1 {
		t.Errorf("dev should only appear on the root:\n%s", out)
	}
}

func TestExportEscaping(t *testing.T) {
	b := model.NewBuilder()
	b.Push([]byte("/r"))
	b.Stat(&sink.Stat{Dir: true, Dev: 1})
	b.Push([]byte("a\nb\"c\\d\x01e\x7ff"))
	b.Stat(&sink.Stat{Size: 1, Blocks: 1})
	// Invalid UTF-8 passes through verbatim.
	b.Push([]byte{'x', 0xff, 0xfe, 'y'})
	b.Stat(&sink.Stat{Size: 1, Blocks: 1})
	b.Leave()
	if err := b.Final(); err != nil {
		t.Fatal(err)
	}

	out := exportToString(t, b.Tree())
	if !strings.Contains(out, `"a\nb\"c\\d\u0001e\u007ff"`) {
		t.Errorf("control escaping wrong:\n%s", out)
	}
	if !strings.Contains(out, "\"x\xff\xfey\"") {
		t.Errorf("non-UTF-8 bytes not verbatim:\n%s", out)
	}
}

func TestExportStdoutPath(t *testing.T) {
	// "-" must not create a temp file in the current directory.
	tr := buildSample(t)
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(old)

	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer null.Close()
	saved := os.Stdout
	os.Stdout = null
	err = ExportFile(tr, "-", "test")
	os.Stdout = saved
	if err != nil {
		t.Fatalf("export to stdout: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("stray files after stdout export: %v", entries)
	}
}

// collectChildren returns a directory's children; the importer prepends,
// so a round-trip reverses sibling order.
func collectChildren(dir *model.Entry) []*model.Entry {
	var out []*model.Entry
	for e := dir.Dir.FirstChild; e != nil; e = e.Next {
		out = append(out, e)
	}
	return out
}

func compareEntries(t *testing.T, ta, tb *model.Tree, a, b *model.Entry, path string) {
	t.Helper()
	if string(a.Name()) != string(b.Name()) {
		t.Errorf("%s: name %q != %q", path, a.Name(), b.Name())
		return
	}
	if a.Kind != b.Kind {
		t.Errorf("%s: kind %v != %v", path, a.Kind, b.Kind)
	}
	if a.Size != b.Size || a.Blocks != b.Blocks {
		t.Errorf("%s: sizes (%d, %d) != (%d, %d)", path, a.Size, a.Blocks, b.Size, b.Blocks)
	}
	if a.Flags != b.Flags {
		t.Errorf("%s: flags %b != %b", path, a.Flags, b.Flags)
	}
	if a.Ino != b.Ino || a.Nlink != b.Nlink {
		t.Errorf("%s: link identity (%d, %d) != (%d, %d)", path, a.Ino, a.Nlink, b.Ino, b.Nlink)
	}
	if (a.Ext == nil) != (b.Ext == nil) {
		t.Errorf("%s: ext presence differs", path)
	} else if a.Ext != nil && *a.Ext != *b.Ext {
		t.Errorf("%s: ext %+v != %+v", path, *a.Ext, *b.Ext)
	}
	if a.Kind != sink.KindDir {
		return
	}
	if ta.Devices.Get(a.Dir.Device).Dev != tb.Devices.Get(b.Dir.Device).Dev {
		t.Errorf("%s: device differs", path)
	}
	if a.Dir.OwnBlocks != b.Dir.OwnBlocks || a.Dir.OwnSize != b.Dir.OwnSize {
		t.Errorf("%s: own sizes (%d, %d) != (%d, %d)", path,
			a.Dir.OwnBlocks, a.Dir.OwnSize, b.Dir.OwnBlocks, b.Dir.OwnSize)
	}
	if a.Dir.Items != b.Dir.Items {
		t.Errorf("%s: items %d != %d", path, a.Dir.Items, b.Dir.Items)
	}
	if a.Dir.SharedBlocks != b.Dir.SharedBlocks || a.Dir.SharedSize != b.Dir.SharedSize {
		t.Errorf("%s: shared (%d, %d) != (%d, %d)", path,
			a.Dir.SharedBlocks, a.Dir.SharedSize, b.Dir.SharedBlocks, b.Dir.SharedSize)
	}

	ca, cb := collectChildren(a), collectChildren(b)
	if len(ca) != len(cb) {
		t.Errorf("%s: child count %d != %d", path, len(ca), len(cb))
		return
	}
	for i := range ca {
		compareEntries(t, ta, tb, ca[i], cb[len(cb)-1-i], path+"/"+string(ca[i].Name()))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	tr := buildSample(t)
	path := filepath.Join(t.TempDir(), "dump.json")
	if err := ExportFile(tr, path, "test"); err != nil {
		t.Fatalf("export: %v", err)
	}

	b := model.NewBuilder()
	if err := Import(path, b); err != nil {
		t.Fatalf("import: %v", err)
	}
	tr2 := b.Tree()

	if tr.Root.Size != tr2.Root.Size || tr.Root.Blocks != tr2.Root.Blocks {
		t.Errorf("root aggregates differ: (%d, %d) vs (%d, %d)",
			tr.Root.Size, tr.Root.Blocks, tr2.Root.Size, tr2.Root.Blocks)
	}
	compareEntries(t, tr, tr2, tr.Root, tr2.Root, "")
}

func TestExportImportGzipRoundTrip(t *testing.T) {
	tr := buildSample(t)
	path := filepath.Join(t.TempDir(), "dump.json.gz")
	if err := ExportFile(tr, path, "test"); err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		t.Fatal("export is not gzip-compressed")
	}

	b := model.NewBuilder()
	if err := Import(path, b); err != nil {
		t.Fatalf("import: %v", err)
	}
	compareEntries(t, tr, b.Tree(), tr.Root, b.Tree().Root, "")
}

func TestExportExtendedRoundTrip(t *testing.T) {
	b := model.NewBuilder()
	b.Push([]byte("/r"))
	b.Stat(&sink.Stat{Dir: true, Dev: 1, Ext: &sink.Ext{Mtime: 1700000000, UID: 1000, GID: 100, Mode: 0o40755}})
	b.Push([]byte("f"))
	b.Stat(&sink.Stat{Size: 5, Blocks: 1, Ext: &sink.Ext{Mtime: 1700000005, UID: 1000, GID: 100, Mode: 0o100644}})
	b.Leave()
	if err := b.Final(); err != nil {
		t.Fatal(err)
	}
	tr := b.Tree()

	path := filepath.Join(t.TempDir(), "dump.json")
	if err := ExportFile(tr, path, "test"); err != nil {
		t.Fatal(err)
	}
	b2 := model.NewBuilder()
	if err := Import(path, b2); err != nil {
		t.Fatal(err)
	}
	compareEntries(t, tr, b2.Tree(), tr.Root, b2.Tree().Root, "")

	// Mtime propagation applies on import just as during a scan.
	if b2.Tree().Root.Ext.Mtime != 1700000005 {
		t.Errorf("root mtime = %d, want propagated 1700000005", b2.Tree().Root.Ext.Mtime)
	}
}
