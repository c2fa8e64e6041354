package utils

import (
	"errors"
	"os"
	"path/filepath"
)

// RepoRoot walks up from startDir (the working directory when empty) to the
// directory holding go.mod.
func RepoRoot(startDir string) (string, error) {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	for dir := filepath.Clean(startDir); ; dir = filepath.Dir(dir) {
		if info, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !info.IsDir() {
			return dir, nil
		}
		if dir == filepath.Dir(dir) { // reached filesystem root
			break
		}
	}
	return "", errors.New("not inside a Go module")
}

// RepoPath joins elem onto the module root.
func RepoPath(elem ...string) (string, error) {
	root, err := RepoRoot("")
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{root}, elem...)...), nil
}
