// Package fsutil provides small filesystem helpers shared by the
// repository and the local chunk store.
package fsutil

import (
	"os"
	"syscall"

	"github.com/chunkstash/chunkstash/internal/errors"
)

// SyncDir flushes changes to the directory dir to stable storage. Some
// filesystems do not support fsync on directories, this is not reported
// as an error.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.WithStack(err)
	}

	err = d.Sync()
	if err != nil && (errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EINVAL)) {
		err = nil
	}

	if closeErr := d.Close(); err == nil {
		err = closeErr
	}

	return errors.WithStack(err)
}

// CreateEmptyFile creates the file at path with no content. The file must
// not already exist.
func CreateEmptyFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(f.Close())
}

// Exists returns true if path is present, following symlinks.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
