//go:build linux

package scan

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

// openDir opens a directory for iteration without following a symlink in
// the final path component.
func openDir(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// lstatEntry stats path without following symlinks and reports whether
// the entry itself is a symlink.
func lstatEntry(path string, extended bool) (sink.Stat, bool, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return sink.Stat{}, false, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return projectStat(&st, extended), st.Mode&unix.S_IFMT == unix.S_IFLNK, nil
}

// statEntry stats path following symlinks.
func statEntry(path string, extended bool) (sink.Stat, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return sink.Stat{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return projectStat(&st, extended), nil
}

// projectStat maps a raw stat into the compact form the tree stores.
// Blocks clamp to the 60-bit field, nlink saturates at 32 bits, and
// negative kernel values (never expected) clamp to zero.
func projectStat(st *unix.Stat_t, extended bool) sink.Stat {
	s := sink.Stat{
		Dev: st.Dev,
		Ino: st.Ino,
		Dir: st.Mode&unix.S_IFMT == unix.S_IFDIR,
	}
	if st.Blocks > 0 {
		s.Blocks = util.ClampBlocks(uint64(st.Blocks))
	}
	if st.Size > 0 {
		s.Size = uint64(st.Size)
	}
	s.Nlink = util.ClampU32(uint64(st.Nlink))
	s.Hlinkc = s.Nlink > 1 && !s.Dir
	s.NotReg = !s.Dir && st.Mode&unix.S_IFMT != unix.S_IFREG
	if extended {
		s.Ext = &sink.Ext{
			Mtime: st.Mtim.Sec,
			UID:   st.Uid,
			GID:   st.Gid,
			Mode:  uint16(st.Mode & 0xffff),
		}
	}
	return s
}

// Pseudo-filesystems exposed by the kernel: scanning them reports
// meaningless sizes and can hang on debugfs entries.
var kernfsMagics = map[int64]bool{
	unix.BINFMTFS_MAGIC:      true,
	unix.BPF_FS_MAGIC:        true,
	unix.CGROUP_SUPER_MAGIC:  true,
	unix.CGROUP2_SUPER_MAGIC: true,
	unix.DEBUGFS_MAGIC:       true,
	unix.DEVPTS_SUPER_MAGIC:  true,
	unix.PROC_SUPER_MAGIC:    true,
	unix.PSTOREFS_MAGIC:      true,
	unix.SECURITYFS_MAGIC:    true,
	unix.SELINUX_MAGIC:       true,
	unix.SYSFS_MAGIC:         true,
	unix.TRACEFS_MAGIC:       true,
}

// isKernfs runs statfs on the opened directory and compares the
// filesystem type against the known pseudo-filesystem magics.
func isKernfs(f *os.File) bool {
	var fs unix.Statfs_t
	if err := unix.Fstatfs(int(f.Fd()), &fs); err != nil {
		return false
	}
	return kernfsMagics[int64(fs.Type)]
}
