// Package remote scans a remote filesystem over the SFTP subsystem and
// feeds it into the same sink the local scanner uses, so remote trees
// browse, export, and import identically.
//
// SFTP reports no device, inode, or link count, so hard-link accounting
// and the same-filesystem/kernfs checks do not apply remotely, and
// allocated sizes are estimated from the remote filesystem's block size.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	pathpkg "path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ozanb/duv/internal/scan"
	"github.com/ozanb/duv/internal/sink"
	"github.com/ozanb/duv/internal/util"
)

const defaultBlockSize uint64 = 4096

// Config configures a remote SFTP scan.
type Config struct {
	Target      string // user@host
	Port        int
	BatchMode   bool // no interactive prompts
	Timeout     time.Duration
	ScanTimeout time.Duration
}

// Scanner walks a remote tree sequentially, like the local scanner.
type Scanner struct {
	cfg  Config
	scfg scan.Config
	snk  sink.Sink

	client    *sftp.Client
	progress  chan<- scan.Progress
	blockSize uint64

	dirs, files, errs uint64
	bytes             uint64
}

// NewScanner creates a remote scanner with the given SSH and scan
// configuration. Same-filesystem, kernfs, and cache exclusion are local
// concepts and are ignored remotely.
func NewScanner(cfg Config, scfg scan.Config) *Scanner {
	return &Scanner{cfg: cfg, scfg: scfg}
}

// Scan connects, walks remotePath, and pushes every entry into snk.
func (s *Scanner) Scan(ctx context.Context, remotePath string, snk sink.Sink, progress chan<- scan.Progress) error {
	if s.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ScanTimeout)
		defer cancel()
	}

	client, closer, err := dialSFTP(ctx, s.cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	s.client = client
	s.snk = snk
	s.progress = progress

	root := cleanPath(remotePath)
	if resolved, err := client.RealPath(root); err == nil {
		root = cleanPath(resolved)
	}
	info, err := client.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot stat remote path %q: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", root, scan.ErrNotDirectory)
	}
	s.blockSize = s.remoteBlockSize(root)

	snk.Push([]byte(root))
	st := s.projectInfo(info, true)
	snk.Stat(&st)
	walkErr := s.walk(ctx, root)
	snk.Leave()
	if walkErr != nil {
		return walkErr
	}

	if err := snk.Final(); err != nil {
		return err
	}
	s.send(root, true)
	return nil
}

func (s *Scanner) walk(ctx context.Context, dirPath string) error {
	entries, err := s.client.ReadDir(dirPath)
	if err != nil {
		s.errs++
		s.snk.ListingError()
		return nil
	}

	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := info.Name()
		full := cleanPath(pathpkg.Join(dirPath, name))
		s.send(full, false)

		if len(s.scfg.ExcludePatterns) > 0 && util.MatchPathSuffix(s.scfg.ExcludePatterns, full) {
			s.special(name, sink.SpecialExcluded)
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 && s.scfg.FollowSymlinks {
			target, err := s.client.Stat(full)
			if err != nil {
				s.errs++
				s.special(name, sink.SpecialErr)
				continue
			}
			if !target.IsDir() {
				info = target
			}
		}

		if info.IsDir() {
			s.dirs++
			s.snk.Push([]byte(name))
			st := s.projectInfo(info, true)
			s.snk.Stat(&st)
			err := s.walk(ctx, full)
			s.snk.Leave()
			if err != nil {
				return err
			}
			continue
		}

		st := s.projectInfo(info, false)
		s.files++
		s.bytes += st.Size
		s.snk.Push([]byte(name))
		s.snk.Stat(&st)
	}
	return nil
}

func (s *Scanner) special(name string, kind sink.Special) {
	s.snk.Push([]byte(name))
	s.snk.Special(kind)
}

// projectInfo maps a remote FileInfo into the compact stat form. Blocks
// are estimated by rounding the apparent size up to the remote block
// size; there is no hard-link information over SFTP.
func (s *Scanner) projectInfo(info os.FileInfo, dir bool) sink.Stat {
	st := sink.Stat{Dir: dir}
	if sz := info.Size(); sz > 0 {
		st.Size = uint64(sz)
	}
	st.NotReg = !dir && !info.Mode().IsRegular()
	bs := s.blockSize
	if bs == 0 {
		bs = defaultBlockSize
	}
	st.Blocks = util.ClampBlocks((st.Size + bs - 1) / bs * (bs / 512))
	if s.scfg.Extended {
		ext := &sink.Ext{Mtime: info.ModTime().Unix()}
		if fst, ok := info.Sys().(*sftp.FileStat); ok {
			ext.UID = fst.UID
			ext.GID = fst.GID
			ext.Mode = uint16(fst.Mode & 0xffff)
		}
		st.Ext = ext
	}
	return st
}

func (s *Scanner) remoteBlockSize(root string) uint64 {
	stat, err := s.client.StatVFS(root)
	if err != nil || stat == nil {
		return defaultBlockSize
	}
	if stat.Frsize >= 512 {
		return stat.Frsize
	}
	if stat.Bsize >= 512 {
		return stat.Bsize
	}
	return defaultBlockSize
}

func (s *Scanner) send(path string, done bool) {
	if s.progress == nil {
		return
	}
	p := scan.Progress{
		CurrentPath: path,
		Dirs:        s.dirs,
		Files:       s.files,
		Bytes:       s.bytes,
		Errors:      s.errs,
		Done:        done,
	}
	select {
	case s.progress <- p:
	default:
	}
}

func cleanPath(p string) string {
	if strings.TrimSpace(p) == "" {
		return "."
	}
	clean := pathpkg.Clean(p)
	if clean == "" {
		return "."
	}
	return clean
}

func dialSFTP(ctx context.Context, cfg Config) (*sftp.Client, io.Closer, error) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, nil, fmt.Errorf("ssh port must be between 1 and 65535")
	}
	user, host, err := parseTarget(cfg.Target)
	if err != nil {
		return nil, nil, err
	}

	hostCB, err := hostKeyCallback(host, cfg.Port, cfg.BatchMode)
	if err != nil {
		return nil, nil, err
	}
	auth, err := authMethods(user, host, cfg.BatchMode)
	if err != nil {
		return nil, nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostCB,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Port))
	sshClient, err := connectSSH(dialCtx, addr, sshConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("SSH connection failed: %w", err)
	}
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("cannot start SFTP subsystem: %w", err)
	}
	return client, &closer{ssh: sshClient, sftp: client}, nil
}

func connectSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// Make cancellation interrupt the handshake, which ssh cannot do itself.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	close(done)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

type closer struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *closer) Close() error {
	err := c.sftp.Close()
	if cerr := c.ssh.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
