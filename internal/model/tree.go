package model

import (
	"path/filepath"

	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

// Tree owns the entries of one scan together with the device table and
// hard-link bookkeeping they reference. All mutation happens on the single
// goroutine driving the sink; browsing is read-only.
type Tree struct {
	Root    *Entry
	Devices *DeviceTable
	links   *LinkCounts
}

// NewTree returns an empty tree with fresh device and link-count tables.
func NewTree() *Tree {
	return &Tree{Devices: NewDeviceTable(), links: NewLinkCounts()}
}

// Attach prepends e to parent's child list without touching any
// aggregates. A directory attached here must not have children yet.
func (t *Tree) Attach(e, parent *Entry) {
	e.Parent = parent
	e.Next = parent.Dir.FirstChild
	parent.Dir.FirstChild = e
}

// Insert links e under parent and adds its contribution to every ancestor.
func (t *Tree) Insert(e, parent *Entry) {
	t.Attach(e, parent)
	t.AddStats(e, parent)
}

// DeferLink links an nlink-unknown hard link under parent and records the
// sighting; AddStats is replayed later by FinalizeLinkCounts.
func (t *Tree) DeferLink(e, parent *Entry) {
	t.Attach(e, parent)
	t.links.Add(parent.Dir.Device, e.Ino)
}

// AddStats walks the ancestor chain from parent to the root, adding e's
// contribution to each directory's aggregates. For hard links the
// per-device occurrence maps decide, per ancestor, whether this entry's
// sizes are new to that subtree (counted into its totals) and whether the
// link is shared with directories outside it. Idempotent: an entry already
// counted is left alone.
func (t *Tree) AddStats(e, parent *Entry) {
	if e.Flags&flagCounted != 0 {
		return
	}
	e.Flags |= flagCounted

	// Set when the link was new to the bottom-most same-device directory;
	// ancestors past a device boundary inherit this decision.
	newHL := false
	for p := parent; p != nil; p = p.Parent {
		d := p.Dir
		if e.Ext != nil && p.Ext != nil && e.Ext.Mtime > p.Ext.Mtime {
			p.Ext.Mtime = e.Ext.Mtime
		}
		d.Items = util.SaturatingAdd(d.Items, 1)

		addTotal := false
		if e.Kind == sink.KindLink {
			if d.Device != parent.Dir.Device {
				addTotal = newHL
			} else {
				hl := t.Devices.Get(d.Device).Hardlinks
				k := HardlinkKey{Ino: e.Ino, Dir: p}
				n, seen := hl[k]
				if !seen {
					hl[k] = 1
					newHL = true
					addTotal = true
					d.SharedBlocks = util.SaturatingAdd(d.SharedBlocks, e.Blocks)
					d.SharedSize = util.SaturatingAdd(d.SharedSize, e.Size)
				} else {
					n++
					hl[k] = n
					if n == e.Nlink {
						// All occurrences live below p: nothing is shared
						// out of this subtree anymore.
						d.SharedBlocks = util.SaturatingSub(d.SharedBlocks, e.Blocks)
						d.SharedSize = util.SaturatingSub(d.SharedSize, e.Size)
					}
				}
			}
		} else {
			addTotal = true
		}
		if addTotal {
			p.Blocks = util.SaturatingAdd(p.Blocks, e.Blocks)
			p.Size = util.SaturatingAdd(p.Size, e.Size)
		}
	}
}

// DelStats removes e's contribution from every ancestor. Two documented
// limitations mirror AddStats' design: ancestors' shared_* totals are not
// corrected (restoring them requires a rescan), and totals that saturated
// during addition come back too low. Ancestor mtimes are preserved.
func (t *Tree) DelStats(e, parent *Entry) {
	if e.Flags&flagCounted == 0 {
		return
	}
	e.Flags &^= flagCounted

	delHL := false
	for p := parent; p != nil; p = p.Parent {
		d := p.Dir
		d.Items = util.SaturatingSub(d.Items, 1)

		delTotal := false
		if e.Kind == sink.KindLink {
			if d.Device != parent.Dir.Device {
				delTotal = delHL
			} else {
				hl := t.Devices.Get(d.Device).Hardlinks
				k := HardlinkKey{Ino: e.Ino, Dir: p}
				if n, seen := hl[k]; seen {
					if n == 1 {
						delete(hl, k)
						delTotal = true
						delHL = true
					} else {
						hl[k] = n - 1
					}
				}
			}
		} else {
			delTotal = true
		}
		if delTotal {
			p.Blocks = util.SaturatingSub(p.Blocks, e.Blocks)
			p.Size = util.SaturatingSub(p.Size, e.Size)
		}
	}
}

// DelStatsRec un-counts e and everything below it, children first.
func (t *Tree) DelStatsRec(e, parent *Entry) {
	if e.Kind == sink.KindDir {
		for c := e.Dir.FirstChild; c != nil; c = c.Next {
			t.DelStatsRec(c, e)
		}
	}
	t.DelStats(e, parent)
}

// Remove un-counts e's subtree and unlinks it from its parent's child
// list. The entry keeps its fields and may be re-inserted.
func (t *Tree) Remove(e *Entry) {
	parent := e.Parent
	if parent == nil {
		return
	}
	t.DelStatsRec(e, parent)
	prev := &parent.Dir.FirstChild
	for c := *prev; c != nil; c = c.Next {
		if c == e {
			*prev = e.Next
			break
		}
		prev = &c.Next
	}
	e.Next = nil
	e.Parent = nil
}

// SetErr flags e as failed and marks every ancestor as containing an
// error, stopping at the first ancestor already marked.
func SetErr(e, parent *Entry) {
	e.Flags |= FlagErr
	for p := parent; p != nil && p.Flags&FlagSuberr == 0; p = p.Parent {
		p.Flags |= FlagSuberr
	}
}

// Path reconstructs the filesystem path of an entry by walking the parent
// chain. The root's name is the absolute scan path, so the result is
// absolute for scanned trees. Raw name bytes pass through unrepaired.
func Path(e *Entry) string {
	depth := 0
	for p := e; p != nil; p = p.Parent {
		depth++
	}
	parts := make([]string, depth)
	i := depth - 1
	for p := e; p != nil; p = p.Parent {
		parts[i] = string(p.Name())
		i--
	}
	return filepath.Join(parts...)
}
