package ops

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"

	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

// maxNameLen caps a single decoded name. Anything longer than the OS
// could ever produce is treated as a corrupt dump.
const maxNameLen = 32 * 1024

// ParseError is a dump syntax error with its position.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Import reads a dump from path ("-" for stdin; gzip is detected from the
// magic bytes) and drives snk with its contents. The reader is bespoke
// rather than encoding/json because dumps may contain non-UTF-8 name
// bytes, which must be accepted verbatim, and because names are the only
// strings worth buffering in multi-gigabyte dumps.
func Import(path string, snk sink.Sink) error {
	var src io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("cannot open import file: %w", err)
		}
		defer f.Close()
		src = f
	}

	br := bufio.NewReaderSize(src, 64*1024)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("cannot read compressed dump: %w", err)
		}
		defer gz.Close()
		br = bufio.NewReaderSize(gz, 64*1024)
	}

	p := &parser{r: br, line: 1, snk: snk}
	if err := p.root(); err != nil {
		return err
	}
	return snk.Final()
}

type parser struct {
	r    *bufio.Reader
	line int
	col  int
	snk  sink.Sink

	devs []uint64 // inherited device per open directory
	name []byte
}

func (p *parser) errf(format string, args ...any) error {
	return &ParseError{Line: p.line, Col: p.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) next() (byte, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return 0, p.errf("unexpected end of file")
		}
		return 0, err
	}
	if b == '\n' {
		p.line++
		p.col = 0
	} else {
		p.col++
	}
	return b, nil
}

func (p *parser) peek() (byte, error) {
	buf, err := p.r.Peek(1)
	if err != nil {
		if err == io.EOF {
			return 0, p.errf("unexpected end of file")
		}
		return 0, err
	}
	return buf[0], nil
}

func (p *parser) skipWS() error {
	for {
		buf, err := p.r.Peek(1)
		if err != nil {
			return nil // let the next read report EOF in context
		}
		switch buf[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := p.next(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *parser) expect(want byte) error {
	b, err := p.next()
	if err != nil {
		return err
	}
	if b != want {
		return p.errf("expected %q, got %q", want, b)
	}
	return nil
}

// root parses the outer [major, minor, {metadata}, rootdir, ...] array.
func (p *parser) root() error {
	if err := p.skipWS(); err != nil {
		return err
	}
	if err := p.expect('['); err != nil {
		return err
	}
	if err := p.skipWS(); err != nil {
		return err
	}
	major, err := p.parseUint()
	if err != nil {
		return err
	}
	if major != formatMajor {
		return p.errf("unsupported format version %d", major)
	}
	if err := p.comma(); err != nil {
		return err
	}
	// Minor versions above ours only add attributes we skip anyway.
	if _, err := p.parseUint(); err != nil {
		return err
	}
	if err := p.comma(); err != nil {
		return err
	}
	if err := p.skipValue(); err != nil { // metadata
		return err
	}
	if err := p.comma(); err != nil {
		return err
	}
	c, err := p.peek()
	if err != nil {
		return err
	}
	if c != '[' {
		return p.errf("root element must be a directory")
	}
	if err := p.element(); err != nil {
		return err
	}
	// Trailing elements are allowed for forward compatibility.
	for {
		if err := p.skipWS(); err != nil {
			return err
		}
		b, err := p.next()
		if err != nil {
			return err
		}
		switch b {
		case ',':
			if err := p.skipWS(); err != nil {
				return err
			}
			if err := p.skipValue(); err != nil {
				return err
			}
		case ']':
			return nil
		default:
			return p.errf("expected %q or %q, got %q", byte(','), byte(']'), b)
		}
	}
}

func (p *parser) comma() error {
	if err := p.skipWS(); err != nil {
		return err
	}
	if err := p.expect(','); err != nil {
		return err
	}
	return p.skipWS()
}

// element parses one tree element: an item object, or a [item, children...]
// directory array.
func (p *parser) element() error {
	c, err := p.peek()
	if err != nil {
		return err
	}
	switch c {
	case '{':
		return p.item(false)
	case '[':
		if _, err := p.next(); err != nil {
			return err
		}
		if err := p.skipWS(); err != nil {
			return err
		}
		if err := p.item(true); err != nil {
			return err
		}
		for {
			if err := p.skipWS(); err != nil {
				return err
			}
			b, err := p.next()
			if err != nil {
				return err
			}
			switch b {
			case ',':
				if err := p.skipWS(); err != nil {
					return err
				}
				if err := p.element(); err != nil {
					return err
				}
			case ']':
				p.devs = p.devs[:len(p.devs)-1]
				p.snk.Leave()
				return nil
			default:
				return p.errf("expected %q or %q, got %q", byte(','), byte(']'), b)
			}
		}
	default:
		return p.errf("expected an object or array, got %q", c)
	}
}

// item parses one {"name":...} object and emits it to the sink.
func (p *parser) item(dir bool) error {
	if err := p.expect('{'); err != nil {
		return err
	}

	var st sink.Stat
	var ext sink.Ext
	var hasExt, hasName bool
	var special sink.Special
	if len(p.devs) > 0 {
		st.Dev = p.devs[len(p.devs)-1]
	}

	var key [16]byte
	for {
		if err := p.skipWS(); err != nil {
			return err
		}
		b, err := p.peek()
		if err != nil {
			return err
		}
		if b == '}' {
			p.next()
			break
		}
		k, err := p.parseKey(key[:0])
		if err != nil {
			return err
		}
		if err := p.skipWS(); err != nil {
			return err
		}
		if err := p.expect(':'); err != nil {
			return err
		}
		if err := p.skipWS(); err != nil {
			return err
		}

		switch string(k) {
		case "name":
			if hasName {
				return p.errf("duplicate name")
			}
			hasName = true
			if err := p.parseName(); err != nil {
				return err
			}
		case "asize":
			if st.Size, err = p.parseUint(); err != nil {
				return err
			}
		case "dsize":
			v, err := p.parseUint()
			if err != nil {
				return err
			}
			st.Blocks = util.ClampBlocks(v / 512)
		case "dev":
			if st.Dev, err = p.parseUint(); err != nil {
				return err
			}
		case "ino":
			if st.Ino, err = p.parseUint(); err != nil {
				return err
			}
		case "nlink":
			v, err := p.parseUint()
			if err != nil {
				return err
			}
			st.Nlink = util.ClampU32(v)
		case "hlnkc":
			if st.Hlinkc, err = p.parseBool(); err != nil {
				return err
			}
		case "notreg":
			if st.NotReg, err = p.parseBool(); err != nil {
				return err
			}
		case "read_error":
			v, err := p.parseBool()
			if err != nil {
				return err
			}
			if v {
				if dir {
					st.ReadError = true
				} else {
					special = sink.SpecialErr
				}
			}
		case "excluded":
			var tag [8]byte
			v, err := p.parseString(tag[:0], len(tag), true)
			if err != nil {
				return err
			}
			switch string(v) {
			case "othfs", "otherfs":
				special = sink.SpecialOtherFS
			case "kernfs":
				special = sink.SpecialKernfs
			default:
				special = sink.SpecialExcluded
			}
		case "uid":
			v, err := p.parseUint()
			if err != nil {
				return err
			}
			ext.UID = util.ClampU32(v)
			hasExt = true
		case "gid":
			v, err := p.parseUint()
			if err != nil {
				return err
			}
			ext.GID = util.ClampU32(v)
			hasExt = true
		case "mode":
			v, err := p.parseUint()
			if err != nil {
				return err
			}
			ext.Mode = uint16(v & 0xffff)
			hasExt = true
		case "mtime":
			v, err := p.parseUint()
			if err != nil {
				return err
			}
			ext.Mtime = util.ClampI64(v)
			hasExt = true
		default:
			if err := p.skipValue(); err != nil {
				return err
			}
		}

		if err := p.skipWS(); err != nil {
			return err
		}
		b, err = p.next()
		if err != nil {
			return err
		}
		if b == '}' {
			break
		}
		if b != ',' {
			return p.errf("expected %q or %q, got %q", byte(','), byte('}'), b)
		}
	}

	if !hasName {
		return p.errf("missing name")
	}
	if hasExt {
		st.Ext = &ext
	}

	p.snk.Push(p.name)
	if dir {
		st.Dir = true
		st.Hlinkc = false
		p.devs = append(p.devs, st.Dev)
		p.snk.Stat(&st)
	} else if special != 0 {
		p.snk.Special(special)
	} else {
		p.snk.Stat(&st)
	}
	return nil
}

// parseKey truncates overlong keys: they cannot match a known attribute
// and their value is skipped anyway.
func (p *parser) parseKey(buf []byte) ([]byte, error) {
	return p.parseString(buf, 15, true)
}

func (p *parser) parseName() error {
	v, err := p.parseString(p.name[:0], maxNameLen, false)
	if err != nil {
		return err
	}
	p.name = v
	if len(p.name) == 0 {
		return p.errf("empty name")
	}
	return nil
}

// parseString decodes a JSON string into buf. Escape sequences are
// decoded per JSON; raw bytes 0x20..0xFF other than '"' and '\' are taken
// verbatim, valid UTF-8 or not. Past limit bytes the string either fails
// (trunc false) or keeps parsing with the excess discarded (trunc true).
func (p *parser) parseString(buf []byte, limit int, trunc bool) ([]byte, error) {
	if err := p.expect('"'); err != nil {
		return nil, err
	}
	for {
		b, err := p.next()
		if err != nil {
			return nil, err
		}
		switch {
		case b == '"':
			return buf, nil
		case b == '\\':
			buf, err = p.parseEscape(buf)
			if err != nil {
				return nil, err
			}
		case b < 0x20:
			return nil, p.errf("raw control byte 0x%02x in string", b)
		default:
			buf = append(buf, b)
		}
		if len(buf) > limit {
			if !trunc {
				return nil, p.errf("string longer than %d bytes", limit)
			}
			buf = buf[:limit]
		}
	}
}

func (p *parser) parseEscape(buf []byte) ([]byte, error) {
	b, err := p.next()
	if err != nil {
		return nil, err
	}
	switch b {
	case '"', '\\', '/':
		return append(buf, b), nil
	case 'b':
		return append(buf, '\b'), nil
	case 'f':
		return append(buf, '\f'), nil
	case 'n':
		return append(buf, '\n'), nil
	case 'r':
		return append(buf, '\r'), nil
	case 't':
		return append(buf, '\t'), nil
	case 'u':
		r, err := p.parseHex4()
		if err != nil {
			return nil, err
		}
		if utf16.IsSurrogate(r) {
			if c, _ := p.peek(); c == '\\' {
				p.next()
				if err := p.expect('u'); err != nil {
					return nil, err
				}
				r2, err := p.parseHex4()
				if err != nil {
					return nil, err
				}
				r = utf16.DecodeRune(r, r2)
			} else {
				r = utf8.RuneError
			}
		}
		return utf8.AppendRune(buf, r), nil
	default:
		return nil, p.errf("invalid escape %q", b)
	}
}

func (p *parser) parseHex4() (rune, error) {
	var r rune
	for i := 0; i < 4; i++ {
		b, err := p.next()
		if err != nil {
			return 0, err
		}
		switch {
		case b >= '0' && b <= '9':
			r = r<<4 | rune(b-'0')
		case b >= 'a' && b <= 'f':
			r = r<<4 | rune(b-'a'+10)
		case b >= 'A' && b <= 'F':
			r = r<<4 | rune(b-'A'+10)
		default:
			return 0, p.errf("invalid \\u escape")
		}
	}
	return r, nil
}

// parseUint reads an unsigned integer with wrap detection. A fractional
// part or exponent tail (mtimes from some producers) is discarded.
func (p *parser) parseUint() (uint64, error) {
	b, err := p.next()
	if err != nil {
		return 0, err
	}
	if b < '0' || b > '9' {
		return 0, p.errf("expected a number, got %q", b)
	}
	v := uint64(b - '0')
	for {
		c, err := p.peek()
		if err != nil {
			return v, nil
		}
		if c < '0' || c > '9' {
			break
		}
		p.next()
		d := uint64(c - '0')
		if v > (math.MaxUint64-d)/10 {
			return 0, p.errf("number overflow")
		}
		v = v*10 + d
	}
	// Discard ".123" and "e+4" tails.
	if c, err := p.peek(); err == nil && c == '.' {
		p.next()
		if err := p.skipDigits(); err != nil {
			return 0, err
		}
	}
	if c, err := p.peek(); err == nil && (c == 'e' || c == 'E') {
		p.next()
		if c, err := p.peek(); err == nil && (c == '+' || c == '-') {
			p.next()
		}
		if err := p.skipDigits(); err != nil {
			return 0, err
		}
	}
	return v, nil
}

func (p *parser) skipDigits() error {
	seen := false
	for {
		c, err := p.peek()
		if err != nil || c < '0' || c > '9' {
			if !seen {
				return p.errf("malformed number")
			}
			return nil
		}
		seen = true
		p.next()
	}
}

func (p *parser) parseBool() (bool, error) {
	b, err := p.next()
	if err != nil {
		return false, err
	}
	var rest string
	var v bool
	switch b {
	case 't':
		rest, v = "rue", true
	case 'f':
		rest, v = "alse", false
	default:
		return false, p.errf("expected a boolean, got %q", b)
	}
	for i := 0; i < len(rest); i++ {
		if err := p.expect(rest[i]); err != nil {
			return false, err
		}
	}
	return v, nil
}

// skipValue structurally skips any JSON value, including nested
// containers, without interpreting it.
func (p *parser) skipValue() error {
	b, err := p.peek()
	if err != nil {
		return err
	}
	switch b {
	case '"':
		return p.skipString()
	case '{', '[':
		return p.skipContainer()
	default:
		// Number or literal: consume until a structural delimiter.
		seen := false
		for {
			c, err := p.peek()
			if err != nil {
				if seen {
					return nil
				}
				return err
			}
			switch c {
			case ',', '}', ']', ' ', '\t', '\r', '\n':
				if !seen {
					return p.errf("expected a value, got %q", c)
				}
				return nil
			}
			seen = true
			p.next()
		}
	}
}

func (p *parser) skipString() error {
	if err := p.expect('"'); err != nil {
		return err
	}
	for {
		b, err := p.next()
		if err != nil {
			return err
		}
		switch b {
		case '"':
			return nil
		case '\\':
			if _, err := p.next(); err != nil {
				return err
			}
		}
	}
}

func (p *parser) skipContainer() error {
	depth := 0
	for {
		b, err := p.next()
		if err != nil {
			return err
		}
		switch b {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return nil
			}
		case '"':
			p.r.UnreadByte()
			p.col--
			if err := p.skipString(); err != nil {
				return err
			}
		}
	}
}
