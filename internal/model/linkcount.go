package model

import "github.com/ozanb/duv/internal/sink"

type linkCountKey struct {
	dev DeviceID
	ino uint64
}

// LinkCounts tallies occurrences of hard links whose reported nlink is
// unknown (0), which happens with dumps that omit the field. It is used
// only while a scan or import is in flight; FinalizeLinkCounts drains it.
type LinkCounts struct {
	m map[linkCountKey]uint32
}

// NewLinkCounts returns an empty tally.
func NewLinkCounts() *LinkCounts {
	return &LinkCounts{m: make(map[linkCountKey]uint32)}
}

// Add records one sighting of an nlink-unknown hard link.
func (lc *LinkCounts) Add(dev DeviceID, ino uint64) {
	lc.m[linkCountKey{dev, ino}]++
}

func (lc *LinkCounts) get(dev DeviceID, ino uint64) uint32 {
	return lc.m[linkCountKey{dev, ino}]
}

// FinalizeLinkCounts walks the tree depth-first and, for every hard link
// still marked nlink-unknown, writes the tallied occurrence count and
// replays the deferred stat addition. Must run after the last entry of a
// scan or import has been inserted.
func (t *Tree) FinalizeLinkCounts() {
	if t.Root == nil {
		return
	}
	t.finalizeDir(t.Root)
	t.links = NewLinkCounts()
}

func (t *Tree) finalizeDir(dir *Entry) {
	for e := dir.Dir.FirstChild; e != nil; e = e.Next {
		if e.Kind == sink.KindDir {
			t.finalizeDir(e)
			continue
		}
		if e.Kind == sink.KindLink && e.Nlink == 0 {
			n := t.links.get(dir.Dir.Device, e.Ino)
			if n == 0 {
				n = 1
			}
			e.Nlink = n
			t.AddStats(e, dir)
		}
	}
}
