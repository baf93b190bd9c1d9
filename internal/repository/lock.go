package repository

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/chunkstash/chunkstash/internal/errors"
)

// fileLock is an OS advisory lock on the repository lock file. It is
// acquired when the repository is opened and held for the lifetime of
// the handle; Close releases it on every exit path.
type fileLock struct {
	f *os.File
}

func lockShared(path string) (*fileLock, error) {
	return lockFile(path, unix.LOCK_SH)
}

func lockExclusive(path string) (*fileLock, error) {
	return lockFile(path, unix.LOCK_EX)
}

// lockFile blocks until the lock is available.
func lockFile(path string, how int) (*fileLock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "locking %v", path)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}

	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if closeErr := l.f.Close(); err == nil {
		err = closeErr
	}
	l.f = nil
	return errors.WithStack(err)
}
