package model

import (
	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

// Flag holds per-entry state bits. Classification flags (excluded, other
// filesystem, kernfs, not-regular) apply to file entries; Err and Suberr
// apply to files and directories.
type Flag uint16

const (
	// FlagErr is set when stat, opendir, or listing failed on this entry.
	FlagErr Flag = 1 << iota
	// FlagSuberr is set on a directory when some descendant has FlagErr.
	FlagSuberr
	// FlagExcluded marks an entry skipped by pattern or CACHEDIR.TAG.
	FlagExcluded
	// FlagOtherFS marks a directory skipped by the same-filesystem rule.
	FlagOtherFS
	// FlagKernfs marks a directory skipped as a kernel pseudo-filesystem.
	FlagKernfs
	// FlagNotReg marks a leaf that is not a regular file.
	FlagNotReg

	flagCounted
)

// Entry is one node in the tree. Children of a directory form a singly
// linked list through Next, in reverse insertion order. Dir is non-nil
// exactly for directories; Ino and Nlink are meaningful for hard links.
//
// Names are raw bytes: the OS may hand out names that are not valid UTF-8,
// and they must survive export and re-import byte-exactly. Display repair
// happens in the UI layer only.
type Entry struct {
	Kind   sink.Kind
	Flags  Flag
	Blocks uint64 // 512-byte units, saturating
	Size   uint64 // apparent bytes, saturating
	Ino    uint64
	Nlink  uint32 // 0 while unknown (deferred to LinkCounts)
	Next   *Entry
	Parent *Entry // enclosing directory, nil for root
	Ext    *sink.Ext
	Dir    *Dir // directory suffix, nil for files and links

	name []byte
}

// Dir carries the directory-only part of an Entry.
//
// Entry.Blocks and Entry.Size on a directory aggregate its descendants
// only; the directory's own stat sizes are kept here so dumps can carry
// them without double-counting on re-import.
type Dir struct {
	OwnBlocks  uint64
	OwnSize    uint64
	FirstChild *Entry
	// SharedBlocks and SharedSize total the hard-linked entries below this
	// directory whose other occurrences live outside it.
	SharedBlocks uint64
	SharedSize   uint64
	// Items counts all descendants, saturating.
	Items  uint64
	Device DeviceID
}

// NewEntry allocates an entry of the given kind with a private copy of the
// raw name bytes.
func NewEntry(kind sink.Kind, name []byte) *Entry {
	e := &Entry{Kind: kind, name: append([]byte(nil), name...)}
	if kind == sink.KindDir {
		e.Dir = &Dir{}
	}
	return e
}

// Name returns the raw name bytes. Callers must not modify them.
func (e *Entry) Name() []byte { return e.name }

// Counted reports whether this entry's sizes are currently reflected in
// its ancestors' aggregates.
func (e *Entry) Counted() bool { return e.Flags&flagCounted != 0 }

// Err reports whether stat, opendir, or listing failed on this entry.
func (e *Entry) Err() bool { return e.Flags&FlagErr != 0 }

// Suberr reports whether some descendant of this directory has an error.
func (e *Entry) Suberr() bool { return e.Flags&FlagSuberr != 0 }

// SpecialKind returns the classification of an uncounted entry, or zero.
func (e *Entry) SpecialKind() sink.Special {
	switch {
	case e.Flags&FlagOtherFS != 0:
		return sink.SpecialOtherFS
	case e.Flags&FlagKernfs != 0:
		return sink.SpecialKernfs
	case e.Flags&FlagExcluded != 0:
		return sink.SpecialExcluded
	case e.Flags&FlagErr != 0 && e.Kind != sink.KindDir:
		return sink.SpecialErr
	}
	return 0
}

// Bytes returns the allocated size in bytes, derived from the block count.
func (e *Entry) Bytes() uint64 { return util.BlocksToBytes(e.Blocks) }

// Items returns the recursive descendant count, 0 for non-directories.
func (e *Entry) Items() uint64 {
	if e.Dir == nil {
		return 0
	}
	return e.Dir.Items
}

// Mtime returns the extended modification time, 0 when not captured.
func (e *Entry) Mtime() int64 {
	if e.Ext == nil {
		return 0
	}
	return e.Ext.Mtime
}
