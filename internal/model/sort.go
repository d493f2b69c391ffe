package model

import (
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/ozanb/duv/internal/util"
)

// SortField defines what to sort by.
type SortField int

const (
	SortBySize SortField = iota
	SortByName
	SortByItems
	SortByMtime
)

// SortOrder defines ascending or descending.
type SortOrder int

const (
	SortDesc SortOrder = iota
	SortAsc
)

// SortConfig holds sort preferences.
type SortConfig struct {
	Field SortField
	Order SortOrder
	// DirsFirst keeps directories before files regardless of sort.
	DirsFirst bool
}

// DefaultSort returns the default sort config (disk usage descending).
func DefaultSort() SortConfig {
	return SortConfig{Field: SortBySize, Order: SortDesc, DirsFirst: false}
}

// Children collects a directory's child list into a slice. The sibling
// list is in reverse insertion order; the caller sorts anyway.
func Children(dir *Entry) []*Entry {
	if dir == nil || dir.Dir == nil {
		return nil
	}
	var out []*Entry
	for e := dir.Dir.FirstChild; e != nil; e = e.Next {
		out = append(out, e)
	}
	return out
}

// SortEntries sorts entries in place according to config. useApparent
// selects apparent size instead of allocated blocks for the size sort.
func SortEntries(entries []*Entry, cfg SortConfig, useApparent bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]

		if cfg.DirsFirst {
			aDir, bDir := a.Dir != nil, b.Dir != nil
			if aDir != bDir {
				return aDir
			}
		}

		// For descending order, swap a and b so the same less-than
		// comparisons produce the reverse result while keeping a strict
		// weak ordering.
		if cfg.Order == SortDesc {
			a, b = b, a
		}

		switch cfg.Field {
		case SortByName:
			return natural.Less(strings.ToLower(util.RepairName(a.Name())), strings.ToLower(util.RepairName(b.Name())))
		case SortByItems:
			return a.Items() < b.Items()
		case SortByMtime:
			return a.Mtime() < b.Mtime()
		default:
			if useApparent {
				return a.Size < b.Size
			}
			return a.Blocks < b.Blocks
		}
	})
}
