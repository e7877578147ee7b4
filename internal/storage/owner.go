package storage

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
)

const ownerFileName = ".owner"

// AlreadyOwnedError is returned by AcquireOwner when another process's owner
// marker is already present at root.
type AlreadyOwnedError struct {
	Root     string
	OwnerPID string
}

func (e *AlreadyOwnedError) Error() string {
	return fmt.Sprintf("storage: %s is already owned by pid %s", e.Root, e.OwnerPID)
}

// AcquireOwner asserts single-process ownership of root by writing a
// sentinel file recording the current PID. It fails if a sentinel already
// exists, per spec §5's "simple owner-flag pattern" (on-disk stores are
// exclusive per process). Call ReleaseOwner when done.
func AcquireOwner(fs afero.Fs, root string) error {
	path := root + "/" + ownerFileName
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return fmt.Errorf("storage: stat owner marker %s: %w", path, err)
	}
	if exists {
		data, _ := afero.ReadFile(fs, path)
		return &AlreadyOwnedError{Root: root, OwnerPID: string(data)}
	}
	if err := afero.WriteFile(fs, path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("storage: write owner marker %s: %w", path, err)
	}
	return nil
}

// ReleaseOwner removes the owner marker, allowing a later process to
// acquire ownership of root.
func ReleaseOwner(fs afero.Fs, root string) error {
	path := root + "/" + ownerFileName
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove owner marker %s: %w", path, err)
	}
	return nil
}
