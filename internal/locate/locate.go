// Package locate finds the Caddyfile to import.
package locate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPaths are searched, in order, when no hint is given or the hint leads nowhere.
var DefaultPaths = []string{
	"/etc/caddy/Caddyfile",
	"/usr/local/etc/caddy/Caddyfile",
	"/etc/Caddyfile",
	"Caddyfile",
}

// maxParents is how many parent directories of a hint are searched.
const maxParents = 5

// ErrNotFound is returned when no Caddyfile can be located.
var ErrNotFound = errors.New("unable to locate a Caddyfile to import")

// Candidates returns the paths searched for a hint, in order: the hint itself, a Caddyfile
// beside it, a Caddyfile inside it, and a Caddyfile in each of up to five parent
// directories. Duplicates are dropped.
func Candidates(hint string) []string {
	hint = expandHome(hint)
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	add(hint)
	if base := filepath.Base(hint); !strings.EqualFold(base, "Caddyfile") {
		add(filepath.Join(filepath.Dir(hint), "Caddyfile"))
	}
	add(filepath.Join(hint, "Caddyfile"))

	dir := filepath.Dir(hint)
	for i := 0; i < maxParents; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		add(filepath.Join(dir, "Caddyfile"))
		dir = parent
	}
	return out
}

// Find returns the first regular file among the candidates of hint, then among
// DefaultPaths. An empty hint searches DefaultPaths only.
func Find(hint string) (string, error) {
	return find(os.DirFS("/"), hint)
}

func find(fsys fs.FS, hint string) (string, error) {
	if hint != "" {
		for _, p := range Candidates(hint) {
			if isFile(fsys, p) {
				return p, nil
			}
		}
	}
	for _, p := range DefaultPaths {
		if isFile(fsys, p) {
			return p, nil
		}
	}
	return "", ErrNotFound
}

func isFile(fsys fs.FS, p string) bool {
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return false
		}
		p = abs
	}
	name := strings.TrimPrefix(filepath.ToSlash(p), "/")
	if name == "" {
		name = "."
	}
	fi, err := fs.Stat(fsys, name)
	return err == nil && fi.Mode().IsRegular()
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
