package ingestion

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

var allowedExt = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
	".csv": true,
}

// LoadLocalFiles walks root and returns every supported file, sorted.
// Hidden directories are skipped.
func LoadLocalFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if allowedExt[strings.ToLower(filepath.Ext(path))] {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}
