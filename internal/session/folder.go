package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrPathTraversal is returned when a session folder resolves outside the root
var ErrPathTraversal = errors.New("invalid path: directory traversal detected")

var folderPattern = regexp.MustCompile(`^session-(.+)$`)

func folderName(id string) string {
	return "session-" + id
}

// discover lists the ids of every session-<id> directory under root
func discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions folder: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if m := folderPattern.FindStringSubmatch(e.Name()); m != nil {
			ids = append(ids, m[1])
		}
	}
	return ids, nil
}

// deleteFolder removes the auth folder of id after checking that its real
// path is strictly nested under the real path of root. A folder that is
// already gone is not an error.
func deleteFolder(root, id string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve sessions folder: %w", err)
	}

	target, err := filepath.EvalSymlinks(filepath.Join(absRoot, folderName(id)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve session folder: %w", err)
	}

	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve sessions folder: %w", err)
	}

	if !strings.HasPrefix(target, realRoot+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathTraversal, id)
	}

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove session folder: %w", err)
	}
	return nil
}
