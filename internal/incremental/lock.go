package incremental

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/tmlc/tmlc/internal/fsys"
)

// ErrWouldBlock is returned by TryLock when another process already
// holds the cache directory's writer lock.
var ErrWouldBlock = errors.New("incremental: lock would block")

const (
	lockFileName = ".incr-cache.lock"
	lockFilePerm = 0o600
	lockDirPerm  = 0o755
)

// DirLock is an advisory, cross-process exclusive lock on one
// incremental cache directory. The on-disk store is single-writer per
// directory (per the concurrency model: "concurrent compilers targeting
// the same cache must serialize via a directory-level advisory lock"),
// so Store.Save takes a DirLock for the duration of the write.
//
// flock locks an inode, not a path, so acquisition re-verifies that the
// descriptor it locked still refers to the file currently at path; if
// the lock file was replaced mid-acquisition it retries rather than
// silently locking a stale inode.
type DirLock struct {
	fs fsys.FS
}

// NewDirLock returns a DirLock operating through fs.
func NewDirLock(fs fsys.FS) *DirLock {
	return &DirLock{fs: fs}
}

// Lock is a held advisory lock. Close releases it.
type Lock struct {
	mu   sync.Mutex
	file fsys.File
}

// Close releases the lock and closes the underlying descriptor. Safe to
// call multiple times.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())
	unlockErr := flockRetryEINTR(fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		return fmt.Errorf("incremental: unlock cache directory: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("incremental: close lock file: %w", closeErr)
	}

	return nil
}

// Lock blocks until it acquires the exclusive lock on dir's lock file.
func (l *DirLock) Lock(dir string) (*Lock, error) {
	for {
		file, err := l.open(dir)
		if err != nil {
			return nil, err
		}

		if err := l.acquire(file, dir, unix.LOCK_EX); err != nil {
			_ = file.Close()

			if errors.Is(err, errInodeMismatch) {
				continue
			}

			return nil, err
		}

		return &Lock{file: file}, nil
	}
}

// TryLock attempts to acquire the lock without blocking, returning
// ErrWouldBlock if another process holds it.
func (l *DirLock) TryLock(dir string) (*Lock, error) {
	file, err := l.open(dir)
	if err != nil {
		return nil, err
	}

	if err := l.acquire(file, dir, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = file.Close()

		return nil, err
	}

	return &Lock{file: file}, nil
}

var errInodeMismatch = errors.New("incremental: lock file replaced during acquisition")

func (l *DirLock) open(dir string) (fsys.File, error) {
	path := filepath.Join(dir, lockFileName)

	file, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err == nil {
		return file, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("incremental: open lock file: %w", err)
	}

	if mkErr := l.fs.MkdirAll(dir, lockDirPerm); mkErr != nil {
		return nil, fmt.Errorf("incremental: create cache directory: %w", mkErr)
	}

	file, err = l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err != nil {
		return nil, fmt.Errorf("incremental: open lock file: %w", err)
	}

	return file, nil
}

func (l *DirLock) acquire(file fsys.File, dir string, flags int) error {
	fd := int(file.Fd())

	if err := flockRetryEINTR(fd, flags); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrWouldBlock
		}

		return fmt.Errorf("incremental: flock: %w", err)
	}

	match, err := l.inodeMatchesPath(dir, file)
	if err != nil {
		_ = flockRetryEINTR(fd, unix.LOCK_UN)

		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("incremental: verify lock file identity: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(fd, unix.LOCK_UN)

		return errInodeMismatch
	}

	return nil
}

// inodeMatchesPath guards against the lock file being replaced (rename,
// delete+recreate) between open and flock.
func (l *DirLock) inodeMatchesPath(dir string, f fsys.File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	pathInfo, err := l.fs.Stat(filepath.Join(dir, lockFileName))
	if err != nil {
		return false, err
	}

	openStat, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openStat == nil {
		return false, fmt.Errorf("incremental: file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathStat, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathStat == nil {
		return false, fmt.Errorf("incremental: fs.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openStat.Dev == pathStat.Dev && openStat.Ino == pathStat.Ino, nil
}

// flockRetryEINTR wraps unix.Flock, retrying on EINTR. A signal
// arriving mid-syscall (SIGWINCH, SIGCHLD, ...) interrupts flock before
// it completes; that's not a lock failure, just a syscall that needs
// retrying. Capped so a pathological signal storm can't spin forever.
func flockRetryEINTR(fd, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
