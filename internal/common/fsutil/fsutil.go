package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists reports whether path exists. Permission errors count as existing.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// EnsureDir creates dir (and parents) if it does not exist yet.
func EnsureDir(dir string) error {
	if dir == "" {
		return errors.New("empty directory path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// FindFile walks root and returns the first regular file whose base name is
// one of names. Candidates are matched in the order given, so callers list
// preferred names first.
func FindFile(root string, names ...string) (string, error) {
	want := make(map[string]int, len(names))
	for i, n := range names {
		want[n] = i
	}
	best, bestRank := "", len(names)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if rank, ok := want[d.Name()]; ok && rank < bestRank {
			best, bestRank = p, rank
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", fmt.Errorf("none of %v found under %s: %w", names, root, os.ErrNotExist)
	}
	return best, nil
}
