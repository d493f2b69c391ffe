package model

import (
	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

// Builder is the sink that grows a Tree. One Builder populates one Tree
// from one scan or import.
type Builder struct {
	tree  *Tree
	stack []*Entry
	name  []byte
}

// NewBuilder returns a builder filling a fresh tree.
func NewBuilder() *Builder {
	return &Builder{tree: NewTree()}
}

// Tree returns the tree under construction.
func (b *Builder) Tree() *Tree { return b.tree }

// Push begins a new element with the given raw name.
func (b *Builder) Push(name []byte) {
	b.name = append(b.name[:0], name...)
}

// Stat finishes the current element with its metadata and inserts it.
func (b *Builder) Stat(st *sink.Stat) {
	kind := sink.KindFile
	switch {
	case st.Dir:
		kind = sink.KindDir
	case st.Hlinkc:
		kind = sink.KindLink
	}

	e := NewEntry(kind, b.name)
	if kind == sink.KindDir {
		// A directory's own sizes are preserved for dumps but never
		// aggregated; Blocks/Size accumulate its descendants.
		e.Dir.OwnBlocks = util.ClampBlocks(st.Blocks)
		e.Dir.OwnSize = st.Size
	} else {
		e.Blocks = util.ClampBlocks(st.Blocks)
		e.Size = st.Size
	}
	if st.Ext != nil {
		ext := *st.Ext
		e.Ext = &ext
	}
	if kind == sink.KindLink {
		e.Ino = st.Ino
		e.Nlink = st.Nlink
	}
	if kind == sink.KindFile && st.NotReg {
		e.Flags |= FlagNotReg
	}
	if kind == sink.KindDir {
		e.Dir.Device = b.tree.Devices.ID(st.Dev)
	}

	parent := b.open()
	if parent == nil {
		b.tree.Root = e
	} else if kind == sink.KindLink && e.Nlink == 0 {
		b.tree.DeferLink(e, parent)
	} else {
		b.tree.Insert(e, parent)
	}
	if st.ReadError {
		SetErr(e, parent)
	}
	if kind == sink.KindDir {
		b.stack = append(b.stack, e)
	}
}

// Special finishes the current element as an uncounted leaf placeholder.
func (b *Builder) Special(kind sink.Special) {
	e := NewEntry(sink.KindFile, b.name)
	switch kind {
	case sink.SpecialErr:
		e.Flags |= FlagErr
	case sink.SpecialOtherFS:
		e.Flags |= FlagOtherFS
	case sink.SpecialKernfs:
		e.Flags |= FlagKernfs
	case sink.SpecialExcluded:
		e.Flags |= FlagExcluded
	}

	parent := b.open()
	if parent == nil {
		return
	}
	b.tree.Insert(e, parent)
	if kind == sink.SpecialErr {
		SetErr(e, parent)
	}
}

// Leave closes the innermost open directory.
func (b *Builder) Leave() {
	b.stack = b.stack[:len(b.stack)-1]
}

// ListingError marks the innermost open directory as unreadable.
func (b *Builder) ListingError() {
	if d := b.open(); d != nil {
		SetErr(d, d.Parent)
	}
}

// Final resolves deferred hard-link counts once the producer is done.
func (b *Builder) Final() error {
	b.tree.FinalizeLinkCounts()
	return nil
}

func (b *Builder) open() *Entry {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1]
}
