package ops

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ozanb/duv/internal/model"
	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

// Dump format, shared with ncdu and compatible tools:
//
//	[1, 2, {"progname":"duv","progver":"1.0","timestamp":1234567890},
//	  [{"name":"/path","asize":123,"dsize":456,"dev":2049},
//	    {"name":"file1","asize":10,"dsize":4096},
//	    [{"name":"subdir"}, {"name":"file2","asize":5}]
//	  ]
//	]
//
// Names are emitted byte-exact: control bytes are \u-escaped, everything
// else passes through verbatim even when it is not valid UTF-8.

const (
	formatMajor = 1
	formatMinor = 2
)

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, avoiding per-call checks.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) WriteString(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = io.WriteString(ew.w, s)
}

func (ew *errWriter) Write(data []byte) {
	if ew.err != nil {
		return
	}
	_, ew.err = ew.w.Write(data)
}

// Exporter is the sink that streams a dump as entries arrive, so a scan
// can be exported without ever materializing the tree. Output goes to a
// temp file renamed into place on Final, to stdout when path is "-", and
// through gzip when path ends in ".gz".
type Exporter struct {
	ew   *errWriter
	bw   *bufio.Writer
	gz   *gzip.Writer
	file *os.File

	tmpPath   string
	finalPath string
	finalized bool

	name      []byte
	devs      []uint64 // device of each open directory
	needComma bool
	scratch   [24]byte
}

// NewExporter opens the target and writes the dump header.
func NewExporter(path, progver string) (*Exporter, error) {
	x := &Exporter{finalPath: path}

	var out io.Writer = os.Stdout
	if path != "-" {
		tmp, err := os.CreateTemp(filepath.Dir(path), ".duv-export-*.tmp")
		if err != nil {
			return nil, fmt.Errorf("cannot create export file: %w", err)
		}
		x.file = tmp
		x.tmpPath = tmp.Name()
		out = tmp
	}
	x.bw = bufio.NewWriterSize(out, 64*1024)
	if strings.HasSuffix(path, ".gz") {
		x.gz = gzip.NewWriter(x.bw)
		x.ew = &errWriter{w: x.gz}
	} else {
		x.ew = &errWriter{w: x.bw}
	}

	x.ew.WriteString("[" + strconv.Itoa(formatMajor) + "," + strconv.Itoa(formatMinor) + ",")
	x.ew.WriteString(`{"progname":"duv","progver":`)
	x.writeQuoted([]byte(progver))
	x.ew.WriteString(`,"timestamp":`)
	x.writeUint(uint64(time.Now().Unix()))
	x.ew.WriteString("}")
	x.needComma = true
	return x, nil
}

// Push begins a new element with the given raw name.
func (x *Exporter) Push(name []byte) {
	x.name = append(x.name[:0], name...)
}

// Stat emits the current element; a directory stays open until Leave.
func (x *Exporter) Stat(st *sink.Stat) {
	x.sep()
	if st.Dir {
		x.ew.WriteString("[")
	}
	x.ew.WriteString(`{"name":`)
	x.writeQuoted(x.name)
	if st.Size > 0 {
		x.attrUint("asize", st.Size)
	}
	if st.Blocks > 0 {
		x.attrUint("dsize", util.BlocksToBytes(st.Blocks))
	}
	if st.Dir {
		if len(x.devs) == 0 || st.Dev != x.devs[len(x.devs)-1] {
			x.attrUint("dev", st.Dev)
		}
		x.devs = append(x.devs, st.Dev)
	} else if st.Hlinkc {
		x.attrUint("ino", st.Ino)
		x.ew.WriteString(`,"hlnkc":true`)
		if st.Nlink > 0 {
			x.attrUint("nlink", uint64(st.Nlink))
		}
	}
	if st.NotReg {
		x.ew.WriteString(`,"notreg":true`)
	}
	if st.ReadError {
		x.ew.WriteString(`,"read_error":true`)
	}
	if st.Ext != nil {
		x.attrUint("uid", uint64(st.Ext.UID))
		x.attrUint("gid", uint64(st.Ext.GID))
		x.attrUint("mode", uint64(st.Ext.Mode))
		x.ew.WriteString(`,"mtime":`)
		if st.Ext.Mtime < 0 {
			x.ew.WriteString("0")
		} else {
			x.writeUint(uint64(st.Ext.Mtime))
		}
	}
	x.ew.WriteString("}")
	x.needComma = true
}

// Special emits an uncounted placeholder element.
func (x *Exporter) Special(kind sink.Special) {
	x.sep()
	x.ew.WriteString(`{"name":`)
	x.writeQuoted(x.name)
	switch kind {
	case sink.SpecialErr:
		x.ew.WriteString(`,"read_error":true`)
	case sink.SpecialOtherFS:
		x.ew.WriteString(`,"excluded":"othfs"`)
	case sink.SpecialKernfs:
		x.ew.WriteString(`,"excluded":"kernfs"`)
	case sink.SpecialExcluded:
		x.ew.WriteString(`,"excluded":"pattern"`)
	}
	x.ew.WriteString("}")
	x.needComma = true
}

// Leave closes the innermost open directory.
func (x *Exporter) Leave() {
	x.ew.WriteString("]")
	x.devs = x.devs[:len(x.devs)-1]
	x.needComma = true
}

// ListingError is a no-op for streamed exports: the directory object has
// already been written when the failure surfaces. Tree-driven exports
// carry the error on Stat.ReadError instead.
func (x *Exporter) ListingError() {}

// Final closes the dump and atomically moves it into place.
func (x *Exporter) Final() error {
	x.ew.WriteString("]\n")
	if x.gz != nil && x.ew.err == nil {
		x.ew.err = x.gz.Close()
	}
	if x.ew.err == nil {
		x.ew.err = x.bw.Flush()
	}
	if x.file != nil {
		if err := x.file.Close(); err != nil && x.ew.err == nil {
			x.ew.err = err
		}
		if x.ew.err != nil {
			os.Remove(x.tmpPath)
			return x.ew.err
		}
		if err := os.Rename(x.tmpPath, x.finalPath); err != nil {
			os.Remove(x.tmpPath)
			return err
		}
	} else if x.ew.err != nil {
		return x.ew.err
	}
	x.finalized = true
	return nil
}

// Discard removes the temp file after an aborted export.
func (x *Exporter) Discard() {
	if x.file != nil && !x.finalized {
		x.file.Close()
		os.Remove(x.tmpPath)
	}
}

func (x *Exporter) sep() {
	if x.needComma {
		x.ew.WriteString(",\n")
	}
}

func (x *Exporter) attrUint(key string, v uint64) {
	x.ew.WriteString(`,"` + key + `":`)
	x.writeUint(v)
}

func (x *Exporter) writeUint(v uint64) {
	x.ew.Write(strconv.AppendUint(x.scratch[:0], v, 10))
}

const hexDigits = "0123456789abcdef"

// writeQuoted writes a JSON string with control bytes escaped and all
// other bytes verbatim. This deliberately violates strict JSON for
// non-UTF-8 names; the importer accepts it back byte-exactly.
func (x *Exporter) writeQuoted(s []byte) {
	ew := x.ew
	ew.WriteString(`"`)
	start := 0
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x20 && b != 0x7f && b != '"' && b != '\\' {
			continue
		}
		ew.Write(s[start:i])
		start = i + 1
		switch b {
		case '"':
			ew.WriteString(`\"`)
		case '\\':
			ew.WriteString(`\\`)
		case '\n':
			ew.WriteString(`\n`)
		case '\r':
			ew.WriteString(`\r`)
		case '\t':
			ew.WriteString(`\t`)
		case '\b':
			ew.WriteString(`\b`)
		case '\f':
			ew.WriteString(`\f`)
		default:
			ew.WriteString(`\u00`)
			ew.Write([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
		}
	}
	ew.Write(s[start:])
	ew.WriteString(`"`)
}

// WriteTree replays an existing tree into a sink, in sibling order.
// Combined with an Exporter this dumps a browsed or imported tree;
// combined with a Builder it deep-copies one.
func WriteTree(t *model.Tree, snk sink.Sink) error {
	if t.Root == nil {
		return errors.New("cannot export an empty tree")
	}
	writeTreeDir(t, t.Root, snk)
	return snk.Final()
}

func writeTreeDir(t *model.Tree, dir *model.Entry, snk sink.Sink) {
	snk.Push(dir.Name())
	st := entryStat(t, dir)
	snk.Stat(&st)
	for e := dir.Dir.FirstChild; e != nil; e = e.Next {
		if e.Kind == sink.KindDir {
			writeTreeDir(t, e, snk)
			continue
		}
		snk.Push(e.Name())
		if kind := e.SpecialKind(); kind != 0 {
			snk.Special(kind)
			continue
		}
		st := entryStat(t, e)
		snk.Stat(&st)
	}
	snk.Leave()
}

func entryStat(t *model.Tree, e *model.Entry) sink.Stat {
	st := sink.Stat{
		Blocks: e.Blocks,
		Size:   e.Size,
		Ext:    e.Ext,
	}
	switch e.Kind {
	case sink.KindDir:
		st.Dir = true
		st.Blocks = e.Dir.OwnBlocks
		st.Size = e.Dir.OwnSize
		st.Dev = t.Devices.Get(e.Dir.Device).Dev
		st.ReadError = e.Err()
	case sink.KindLink:
		st.Hlinkc = true
		st.Ino = e.Ino
		st.Nlink = e.Nlink
	default:
		st.NotReg = e.Flags&model.FlagNotReg != 0
		st.ReadError = e.Err()
	}
	return st
}

// ExportFile dumps a tree to path ("-" for stdout, ".gz" for compressed).
func ExportFile(t *model.Tree, path, progver string) error {
	x, err := NewExporter(path, progver)
	if err != nil {
		return err
	}
	if err := WriteTree(t, x); err != nil {
		x.Discard()
		return err
	}
	return nil
}
