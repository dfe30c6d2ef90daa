package pyparse

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// packagingPrefixes are wheel .data install schemes that are not part of
// the import path.
var packagingPrefixes = []string{"purelib.", "platlib."}

// ModulePath derives the dotted module path of file relative to root.
// __init__.py names its directory's module; other files append their stem.
// When srcLayout is set a leading "src." is dropped.
func ModulePath(root, file string, srcLayout bool) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		rel = file
	}
	rel = filepath.ToSlash(rel)

	dir, base := path.Split(rel)
	parts := []string{}
	for _, p := range strings.Split(strings.Trim(dir, "/"), "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	if base != "__init__.py" {
		parts = append(parts, strings.TrimSuffix(base, ".py"))
	}

	mod := strings.Join(parts, ".")
	for _, prefix := range packagingPrefixes {
		mod = strings.TrimPrefix(mod, prefix)
	}
	if srcLayout {
		mod = strings.TrimPrefix(mod, "src.")
	}
	return mod
}

type pyproject struct {
	Tool struct {
		Setuptools struct {
			PackageDir map[string]string `toml:"package-dir"`
			Packages   struct {
				Find struct {
					Where []string `toml:"where"`
				} `toml:"find"`
			} `toml:"packages"`
		} `toml:"setuptools"`
		Poetry struct {
			Packages []struct {
				Include string `toml:"include"`
				From    string `toml:"from"`
			} `toml:"packages"`
		} `toml:"poetry"`
		Hatch struct {
			Build struct {
				Targets struct {
					Wheel struct {
						Packages []string `toml:"packages"`
					} `toml:"wheel"`
				} `toml:"targets"`
			} `toml:"build"`
		} `toml:"hatch"`
	} `toml:"tool"`
}

// DetectSrcLayout reports whether root's pyproject.toml places packages
// under a src directory. A missing or malformed file means no.
func DetectSrcLayout(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "pyproject.toml"))
	if err != nil {
		return false
	}
	var p pyproject
	if err := toml.Unmarshal(data, &p); err != nil {
		return false
	}

	st := p.Tool.Setuptools
	if strings.Trim(st.PackageDir[""], "/") == "src" {
		return true
	}
	for _, w := range st.Packages.Find.Where {
		if strings.Trim(w, "/") == "src" {
			return true
		}
	}
	for _, pkg := range p.Tool.Poetry.Packages {
		if strings.Trim(pkg.From, "/") == "src" {
			return true
		}
	}
	for _, pkg := range p.Tool.Hatch.Build.Targets.Wheel.Packages {
		if strings.HasPrefix(pkg, "src/") {
			return true
		}
	}
	return false
}
