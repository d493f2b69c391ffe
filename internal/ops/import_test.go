package ops

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/sink"
)

func importString(t *testing.T, dump string) (*model.Tree, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.json")
	if err := os.WriteFile(path, []byte(dump), 0o644); err != nil {
		t.Fatal(err)
	}
	b := model.NewBuilder()
	if err := Import(path, b); err != nil {
		return nil, err
	}
	return b.Tree(), nil
}

func TestImportMinimal(t *testing.T) {
	tr, err := importString(t, `[1, 0, {"progname":"ncdu"},
	  [{"name":"/","asize":4096,"dsize":4096,"dev":2049},
	    {"name":"f","asize":100,"dsize":512}]]`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	root := tr.Root
	if string(root.Name()) != "/" || root.Kind != sink.KindDir {
		t.Fatalf("bad root %q", root.Name())
	}
	// Aggregates cover the children; the root's own stat is kept aside.
	if root.Size != 100 || root.Blocks != 1 {
		t.Errorf("root totals = (%d, %d), want (100, 1)", root.Size, root.Blocks)
	}
	if root.Dir.OwnSize != 4096 || root.Dir.OwnBlocks != 8 {
		t.Errorf("root own sizes = (%d, %d), want (4096, 8)", root.Dir.OwnSize, root.Dir.OwnBlocks)
	}
	f := root.Dir.FirstChild
	if f == nil || string(f.Name()) != "f" || f.Size != 100 || f.Blocks != 1 {
		t.Errorf("bad child: %+v", f)
	}
}

func TestImportHigherMinorAndUnknownKeys(t *testing.T) {
	tr, err := importString(t, `[1, 99, {"progname":"future","other":[1,{"x":"y"}]},
	  [{"name":"/","shiny_new_attribute":{"deep":[1,2,3]},"asize":1},
	    {"name":"f","asize":2,"whatever":"ignored"}]]`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if tr.Root.Size != 2 || tr.Root.Dir.OwnSize != 1 {
		t.Errorf("root size = (%d, own %d), want (2, 1)", tr.Root.Size, tr.Root.Dir.OwnSize)
	}
}

func TestImportRejectsMajor(t *testing.T) {
	_, err := importString(t, `[2, 0, {}, [{"name":"/"}]]`)
	if err == nil || !strings.Contains(err.Error(), "unsupported format version") {
		t.Errorf("err = %v, want version rejection", err)
	}
}

func TestImportRootMustBeDir(t *testing.T) {
	_, err := importString(t, `[1, 0, {}, {"name":"f"}]`)
	if err == nil || !strings.Contains(err.Error(), "root element must be a directory") {
		t.Errorf("err = %v, want root rejection", err)
	}
}

func TestImportTrailingElements(t *testing.T) {
	_, err := importString(t, `[1, 0, {}, [{"name":"/"}], {"future":"stuff"}, [1,2]]`)
	if err != nil {
		t.Errorf("trailing elements must be discarded, got %v", err)
	}
}

func TestImportDuplicateName(t *testing.T) {
	_, err := importString(t, `[1, 0, {}, [{"name":"/","name":"x"}]]`)
	if err == nil || !strings.Contains(err.Error(), "duplicate name") {
		t.Errorf("err = %v, want duplicate name", err)
	}
}

func TestImportMissingName(t *testing.T) {
	_, err := importString(t, `[1, 0, {}, [{"asize":3}]]`)
	if err == nil || !strings.Contains(err.Error(), "missing name") {
		t.Errorf("err = %v, want missing name", err)
	}
}

func TestImportErrorPosition(t *testing.T) {
	_, err := importString(t, "[1, 0, {},\n  [{\"name\":\"/\"},\n    {\"name\" 42}]]")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if perr.Line != 3 {
		t.Errorf("line = %d, want 3", perr.Line)
	}
	if !strings.Contains(err.Error(), "parse error at 3:") {
		t.Errorf("diagnostic %q lacks line:col", err.Error())
	}
}

func TestImportNameLimits(t *testing.T) {
	long := strings.Repeat("x", maxNameLen-1)
	tr, err := importString(t, `[1, 0, {}, [{"name":"/"}, {"name":"`+long+`"}]]`)
	if err != nil {
		t.Fatalf("name of %d bytes must parse: %v", maxNameLen-1, err)
	}
	if got := len(tr.Root.Dir.FirstChild.Name()); got != maxNameLen-1 {
		t.Errorf("name length = %d, want %d", got, maxNameLen-1)
	}

	tooLong := strings.Repeat("x", maxNameLen+5)
	_, err = importString(t, `[1, 0, {}, [{"name":"/"}, {"name":"`+tooLong+`"}]]`)
	if err == nil {
		t.Error("oversized name must fail to parse")
	}
}

func TestImportRawBytesAndEscapes(t *testing.T) {
	tr, err := importString(t, "[1,0,{},[{\"name\":\"/\"},{\"name\":\"a\\u00e9b\xff\\nc\",\"asize\":1}]]")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	want := "aéb\xff\nc"
	if got := string(tr.Root.Dir.FirstChild.Name()); got != want {
		t.Errorf("name = %q, want %q", got, want)
	}
}

func TestImportSurrogatePair(t *testing.T) {
	tr, err := importString(t, `[1,0,{},[{"name":"/"},{"name":"`+"\\ud83d\\ude00"+`","asize":1}]]`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := string(tr.Root.Dir.FirstChild.Name()); got != "😀" {
		t.Errorf("name = %q, want emoji", got)
	}
}

func TestImportSpecials(t *testing.T) {
	tr, err := importString(t, `[1, 0, {},
	  [{"name":"/"},
	    {"name":"p","excluded":"pattern"},
	    {"name":"o","excluded":"othfs"},
	    {"name":"k","excluded":"kernfs"},
	    {"name":"e","read_error":true}]]`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	want := map[string]sink.Special{
		"p": sink.SpecialExcluded,
		"o": sink.SpecialOtherFS,
		"k": sink.SpecialKernfs,
		"e": sink.SpecialErr,
	}
	for e := tr.Root.Dir.FirstChild; e != nil; e = e.Next {
		if got := e.SpecialKind(); got != want[string(e.Name())] {
			t.Errorf("%q special = %v, want %v", e.Name(), got, want[string(e.Name())])
		}
	}
	if !tr.Root.Suberr() {
		t.Error("read_error child did not set suberr on root")
	}
}

func TestImportDirReadError(t *testing.T) {
	tr, err := importString(t, `[1, 0, {}, [{"name":"/"}, [{"name":"sub","read_error":true}]]]`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	sub := tr.Root.Dir.FirstChild
	if sub.Kind != sink.KindDir || !sub.Err() {
		t.Error("directory read_error not recorded")
	}
	if !tr.Root.Suberr() {
		t.Error("directory read_error not propagated")
	}
}

func TestImportDeferredNlink(t *testing.T) {
	// hlnkc without nlink: counted via the post-import tally.
	tr, err := importString(t, `[1, 0, {},
	  [{"name":"/","dev":1},
	    {"name":"l1","asize":100,"dsize":1536,"ino":42,"hlnkc":true},
	    {"name":"l2","asize":100,"dsize":1536,"ino":42,"hlnkc":true}]]`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if tr.Root.Blocks != 3 || tr.Root.Size != 100 {
		t.Errorf("root totals = (%d, %d), want (3, 100)", tr.Root.Blocks, tr.Root.Size)
	}
	for e := tr.Root.Dir.FirstChild; e != nil; e = e.Next {
		if e.Nlink != 2 {
			t.Errorf("%q nlink = %d, want tallied 2", e.Name(), e.Nlink)
		}
	}
}

func TestImportFractionalMtime(t *testing.T) {
	tr, err := importString(t, `[1, 0, {}, [{"name":"/","mtime":1700000000.25}]]`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if tr.Root.Ext == nil || tr.Root.Ext.Mtime != 1700000000 {
		t.Error("fractional mtime not truncated to seconds")
	}
}

func TestImportNumberOverflow(t *testing.T) {
	_, err := importString(t, `[1, 0, {}, [{"name":"/","asize":99999999999999999999999}]]`)
	if err == nil || !strings.Contains(err.Error(), "overflow") {
		t.Errorf("err = %v, want overflow", err)
	}
}

func TestImportStdin(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		w.WriteString(`[1, 0, {}, [{"name":"/"}, {"name":"f","asize":7}]]`)
		w.Close()
	}()
	saved := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = saved }()

	b := model.NewBuilder()
	if err := Import("-", b); err != nil {
		t.Fatalf("import from stdin: %v", err)
	}
	if b.Tree().Root.Size != 7 {
		t.Errorf("root size = %d, want 7", b.Tree().Root.Size)
	}
}
