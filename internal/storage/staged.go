package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// Stage names one of the fixed sibling subfolders a StagedStore arranges.
type Stage string

// StagedStore is a directory with a fixed set of sibling subfolders
// (lifecycle stages) and exactly one move primitive between them.
type StagedStore struct {
	Fs     afero.Fs
	Root   string
	Stages []Stage
}

// NewStagedStore creates (if absent) every stage subfolder under root.
func NewStagedStore(fs afero.Fs, root string, stages ...Stage) (*StagedStore, error) {
	s := &StagedStore{Fs: fs, Root: root, Stages: stages}
	for _, st := range stages {
		if err := fs.MkdirAll(s.StagePath(st), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create stage %s under %s: %w", st, root, err)
		}
	}
	return s, nil
}

// StagePath returns the absolute path of one stage's subfolder.
func (s *StagedStore) StagePath(stage Stage) string {
	return filepath.Join(s.Root, string(stage))
}

// List returns the file names present in stage, in lexicographic order.
func (s *StagedStore) List(stage Stage) ([]string, error) {
	entries, err := afero.ReadDir(s.Fs, s.StagePath(stage))
	if err != nil {
		return nil, fmt.Errorf("storage: list stage %s: %w", stage, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Move renames name from the src stage to the dst stage, an atomic
// same-filesystem rename, and returns the new path.
func (s *StagedStore) Move(src, dst Stage, name string) (string, error) {
	srcPath := filepath.Join(s.StagePath(src), name)
	dstPath := filepath.Join(s.StagePath(dst), name)
	if err := s.Fs.Rename(srcPath, dstPath); err != nil {
		return "", fmt.Errorf("storage: move %s -> %s: %w", srcPath, dstPath, err)
	}
	return dstPath, nil
}

// Ingress copies name from a (possibly different) source filesystem into the
// dst stage using copy-then-fsync-then-rename-then-unlink through a
// same-filesystem temp name, the only cross-filesystem move this state
// machine supports (extract -> normalize ingress).
func (s *StagedStore) Ingress(srcFs afero.Fs, srcPath string, dst Stage, name string) (string, error) {
	in, err := srcFs.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("storage: open ingress source %s: %w", srcPath, err)
	}
	defer in.Close()

	tmpPath := filepath.Join(s.StagePath(dst), ".ingress-"+name)
	out, err := s.Fs.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("storage: create ingress temp %s: %w", tmpPath, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = s.Fs.Remove(tmpPath)
		return "", fmt.Errorf("storage: copy ingress %s: %w", srcPath, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = s.Fs.Remove(tmpPath)
		return "", fmt.Errorf("storage: fsync ingress temp %s: %w", tmpPath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("storage: close ingress temp %s: %w", tmpPath, err)
	}

	finalPath := filepath.Join(s.StagePath(dst), name)
	if err := s.Fs.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("storage: rename ingress temp %s -> %s: %w", tmpPath, finalPath, err)
	}
	if err := srcFs.Remove(srcPath); err != nil {
		return "", fmt.Errorf("storage: unlink ingress source %s: %w", srcPath, err)
	}
	return finalPath, nil
}

// MoveDir relocates an entire directory tree, used to archive a completed
// Load package (load/<load_id> -> load/completed/<load_id>). Some afero
// backends (notably MemMapFs) only rename the directory's own entry and
// leave descendant file keys under the old prefix, so this always walks and
// copies rather than relying on Fs.Rename for a populated directory.
func MoveDir(fs afero.Fs, src, dst string) error {
	walkErr := afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, info.Mode())
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(fs, target, data, info.Mode())
	})
	if walkErr != nil {
		return fmt.Errorf("storage: copy directory %s -> %s: %w", src, dst, walkErr)
	}
	if err := fs.RemoveAll(src); err != nil {
		return fmt.Errorf("storage: remove source directory %s after copy: %w", src, err)
	}
	return nil
}
