package file

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"mergeflow/internal/objectstore"
)

// ReadList reads a paths_file: one input per line, blank lines and '#'
// comments skipped. Relative local entries are resolved against the list
// file's directory and glob patterns are expanded in sorted order. Object
// storage URIs are kept as written. An entry seen twice is read once, at its
// first position.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if objectstore.IsURI(line) {
			add(line)
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		if !strings.ContainsAny(line, "*?[") {
			add(line)
			continue
		}
		matches, err := filepath.Glob(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			add(m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
