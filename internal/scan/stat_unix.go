//go:build unix && !linux

package scan

import (
	"os"
	"syscall"

	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

func openDir(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_DIRECTORY, 0)
}

func lstatEntry(path string, extended bool) (sink.Stat, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return sink.Stat{}, false, err
	}
	return projectInfo(info, extended), info.Mode()&os.ModeSymlink != 0, nil
}

func statEntry(path string, extended bool) (sink.Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return sink.Stat{}, err
	}
	return projectInfo(info, extended), nil
}

func projectInfo(info os.FileInfo, extended bool) sink.Stat {
	s := sink.Stat{Dir: info.IsDir()}
	if sz := info.Size(); sz > 0 {
		s.Size = uint64(sz)
	}
	s.NotReg = !info.IsDir() && !info.Mode().IsRegular()

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		s.Dev = uint64(st.Dev)
		s.Ino = uint64(st.Ino)
		if st.Blocks > 0 {
			s.Blocks = util.ClampBlocks(uint64(st.Blocks))
		}
		s.Nlink = util.ClampU32(uint64(st.Nlink))
		if extended {
			s.Ext = &sink.Ext{
				Mtime: info.ModTime().Unix(),
				UID:   st.Uid,
				GID:   st.Gid,
				Mode:  uint16(st.Mode & 0xffff),
			}
		}
	} else {
		// No raw stat: approximate allocation from the apparent size.
		s.Blocks = util.ClampBlocks((s.Size + 511) / 512)
		if extended {
			s.Ext = &sink.Ext{Mtime: info.ModTime().Unix()}
		}
	}
	s.Hlinkc = s.Nlink > 1 && !s.Dir
	return s
}

// Kernel pseudo-filesystem detection is Linux-only.
func isKernfs(*os.File) bool { return false }
