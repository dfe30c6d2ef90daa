// Package discover finds Python source files in a snapshot.
package discover

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"caliper/internal/errors"
)

// Options selects files under a root.
type Options struct {
	// Include is a doublestar glob matched against slash-separated paths
	// relative to the root, e.g. "**/*.py".
	Include string
	// Exclude holds gitignore-style patterns.
	Exclude []string
	// ModulesOnly keeps files whose directory holds an __init__.py. When no
	// file qualifies, every included file is returned instead.
	ModulesOnly bool
}

// Matcher applies Options to relative paths.
type Matcher struct {
	include string
	exclude *ignore.GitIgnore
}

// NewMatcher validates the patterns in opts.
func NewMatcher(opts Options) (*Matcher, error) {
	include := opts.Include
	if include == "" {
		include = "**/*.py"
	}
	if !doublestar.ValidatePattern(include) {
		return nil, errors.Newf(errors.ConfigInvalid, "invalid include pattern %q", include)
	}
	m := &Matcher{include: include}
	if len(opts.Exclude) > 0 {
		m.exclude = ignore.CompileIgnoreLines(opts.Exclude...)
	}
	return m, nil
}

// Excluded reports whether rel (slash-separated) matches an exclude pattern.
func (m *Matcher) Excluded(rel string) bool {
	return m.exclude != nil && m.exclude.MatchesPath(rel)
}

// Included reports whether rel matches the include glob and no exclude.
func (m *Matcher) Included(rel string) bool {
	ok, err := doublestar.Match(m.include, rel)
	return err == nil && ok && !m.Excluded(rel)
}

// Files returns the matching files under root as sorted slash-separated
// relative paths. The .git directory is never entered.
func Files(root string, opts Options) ([]string, error) {
	m, err := NewMatcher(opts)
	if err != nil {
		return nil, err
	}

	var all, modules []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if d.Name() == ".git" || m.Excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !m.Included(rel) {
			return nil
		}
		all = append(all, rel)
		if opts.ModulesOnly && isPackageDir(filepath.Dir(path)) {
			modules = append(modules, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.InputMissing, "walking "+root, err)
	}

	out := all
	if opts.ModulesOnly && len(modules) > 0 {
		out = modules
	}
	sort.Strings(out)
	return out, nil
}

func isPackageDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, "__init__.py"))
	return err == nil && !info.IsDir()
}

