package cmd

import (
	"fmt"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/directory"
)

// NewDirectory loads the actor directory from a JSON file, or returns an
// empty directory when no path is configured. An empty directory resolves
// nothing beyond fixed user assignments.
func NewDirectory(path string) (directory.Directory, error) {
	if path == "" {
		return directory.NewStatic(nil, nil), nil
	}

	dir, err := directory.LoadStatic(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load directory file %s: %w", path, err)
	}

	return dir, nil
}
