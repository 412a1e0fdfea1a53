package gpx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Dir is a directory of GPX files, listed once in lexicographic order.
type Dir struct {
	Path  string
	files []string
}

// OpenDir resolves path (expanding ~) and lists the *.gpx files inside it.
func OpenDir(path string) (*Dir, error) {
	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("could not resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory %s does not exist", abs)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path %s is not a directory", abs)
	}

	files, err := filepath.Glob(filepath.Join(abs, "*.gpx"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	return &Dir{Path: abs, files: files}, nil
}

// Files returns the sorted file paths.
func (d *Dir) Files() []string {
	out := make([]string, len(d.files))
	copy(out, d.files)
	return out
}

func (d *Dir) Len() int {
	return len(d.files)
}
