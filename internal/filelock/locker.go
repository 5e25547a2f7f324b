// locker.go implements the flock(2)-based exclusive advisory lock that
// Maintenance uses to serialize resolverctl's maintenance operations against
// each other.
//
// Adapted from the teacher's internal/fs.Locker, trimmed to the one mode
// this domain needs: an exclusive lock acquired either with a timeout or as
// a single non-blocking probe. The teacher's locker also offers shared
// (read) locks and an indefinitely-blocking acquire; a maintenance lock
// here is always held exclusively and resolverctl always prefers giving up
// over waiting forever, so that surface was dropped rather than carried
// along unused.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// ErrWouldBlock is returned by TryAcquire, or by Acquire once its timeout
// expires, when the lock is held elsewhere.
var ErrWouldBlock = errors.New("filelock: lock would block")

var errInodeMismatch = errors.New("filelock: lock file was replaced during acquire")

// file is the subset of *os.File the lock engine needs: enough to flock an
// fd and confirm it still refers to the path it was opened from.
type file interface {
	Fd() uintptr
	Stat() (os.FileInfo, error)
	Close() error
}

// fileSystem is the subset of filesystem operations locking needs. Real use
// goes through osFS; tests substitute a fake to drive the inode-replacement
// race deterministically.
type fileSystem interface {
	OpenFile(path string, flag int, perm os.FileMode) (file, error)
	MkdirAll(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
}

type osFS struct{}

func (osFS) OpenFile(path string, flag int, perm os.FileMode) (file, error) {
	f, err := os.OpenFile(path, flag, perm)

	return f, err
}

func (osFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (osFS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

const (
	lockFilePerm = 0o600
	lockDirPerm  = 0o755

	maxBackoff      = 25 * time.Millisecond
	maxEINTRRetries = 10000
)

type locker struct {
	fs    fileSystem
	flock func(fd int, how int) error
}

func newLocker() *locker {
	return &locker{fs: osFS{}, flock: syscall.Flock}
}

// heldLock is a held exclusive lock; Close releases it. Safe to Close from
// any goroutine, and safe to call more than once.
type heldLock struct {
	mu    sync.Mutex
	file  file
	flock func(fd int, how int) error
}

func (lk *heldLock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())

	unlockErr := flockRetryEINTR(lk.flock, fd, syscall.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		return fmt.Errorf("filelock: unlocking: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("filelock: closing lock fd: %w", closeErr)
	}

	return nil
}

// acquirePolling takes the exclusive lock at path using non-blocking flock
// with backoff retries.
//
//   - timeout == 0: try exactly once.
//   - timeout > 0: retry with backoff until timeout elapses.
func (l *locker) acquirePolling(path string, timeout time.Duration) (*heldLock, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	backoff := time.Millisecond

	for {
		f, err := l.openLockFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}

		err = l.tryAcquireOnce(f, path)
		if err == nil {
			return &heldLock{file: f, flock: l.flock}, nil
		}

		_ = f.Close()

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errInodeMismatch) {
			return nil, err
		}

		if timeout == 0 {
			return nil, asWouldBlock(err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: timed out after %s", asWouldBlock(err), timeout)
		}

		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}

		time.Sleep(sleep)

		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func asWouldBlock(err error) error {
	if errors.Is(err, errInodeMismatch) {
		return fmt.Errorf("%w: %v", ErrWouldBlock, err)
	}

	return ErrWouldBlock
}

func (l *locker) tryAcquireOnce(f file, path string) error {
	fd := int(f.Fd())

	if err := flockRetryEINTR(l.flock, fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if isWouldBlock(err) {
			return ErrWouldBlock
		}

		return err
	}

	match, err := l.inodeMatchesPath(path, f)
	if err != nil {
		_ = flockRetryEINTR(l.flock, fd, syscall.LOCK_UN)

		if errors.Is(err, os.ErrNotExist) {
			return errInodeMismatch
		}

		return fmt.Errorf("verifying inode match: %w", err)
	}

	if !match {
		_ = flockRetryEINTR(l.flock, fd, syscall.LOCK_UN)

		return errInodeMismatch
	}

	return nil
}

func (l *locker) openLockFile(path string) (file, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), lockDirPerm); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, lockFilePerm)
}

// inodeMatchesPath guards against flock's lock-by-inode, not-by-pathname
// semantics: if path is replaced (rename, delete+recreate) while the lock is
// being acquired, the caller must not believe it locked "the file at path"
// when it actually locked a now-unlinked inode.
func (l *locker) inodeMatchesPath(path string, f file) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok || openSys == nil {
		return false, fmt.Errorf("file.Stat Sys=%T, want *syscall.Stat_t", openInfo.Sys())
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok || pathSys == nil {
		return false, fmt.Errorf("fs.Stat Sys=%T, want *syscall.Stat_t", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

// flockRetryEINTR retries flock on EINTR (the syscall was interrupted by a
// signal before it could complete, not a failure worth surfacing).
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	var err error
	for i := 0; i < maxEINTRRetries; i++ {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return err
}
