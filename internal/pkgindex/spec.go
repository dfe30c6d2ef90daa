// Package pkgindex resolves package URIs to ordered version descriptors.
package pkgindex

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// Kind selects the extraction strategy for a source.
type Kind string

const (
	KindTarGz  Kind = "targz"
	KindTarBz2 Kind = "tarbz2"
	KindZip    Kind = "zip"
	KindWheel  Kind = "wheel"
	// KindFiles is a list of individual files rather than one archive.
	KindFiles Kind = "files"
)

// Source locates the downloadable content of one version.
type Source struct {
	URL  string `json:"url,omitempty"`
	Kind Kind   `json:"kind"`
	// Subdir is the directory inside the extracted archive that holds the
	// package, e.g. site-packages/<name> for conda builds. Empty means the
	// archive root.
	Subdir string `json:"subdir,omitempty"`
	// Target is the directory under the destination that receives Subdir.
	Target string `json:"target,omitempty"`
}

// File is one downloadable file of a KindFiles source.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// VersionSpec describes one released version of a package.
type VersionSpec struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  Source `json:"source"`
	// Hash is a sha256 hex digest when the index publishes one. Some indexes
	// store other identifiers here; only 64-hex-digit values are verified.
	Hash  string `json:"hash,omitempty"`
	Files []File `json:"files,omitempty"`
}

// KindFromFilename infers the archive kind from a download file name.
func KindFromFilename(name string) (Kind, bool) {
	lower := strings.ToLower(path.Base(name))
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return KindTarGz, true
	case strings.HasSuffix(lower, ".tar.bz2"):
		return KindTarBz2, true
	case strings.HasSuffix(lower, ".whl"):
		return KindWheel, true
	case strings.HasSuffix(lower, ".zip"):
		return KindZip, true
	}
	return "", false
}

// SortSpecs orders specs by version, oldest first. The sort is stable so
// duplicates keep index order.
func SortSpecs(specs []VersionSpec) {
	sort.SliceStable(specs, func(i, j int) bool {
		return CompareVersions(specs[i].Version, specs[j].Version) < 0
	})
}

// SortVersions orders version strings semantically, oldest first.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
}

// CompareVersions compares two version strings semantically. Strings that
// do not parse as versions are compared segment by segment, numeric
// segments numerically.
func CompareVersions(a, b string) int {
	va, errA := version.NewVersion(a)
	vb, errB := version.NewVersion(b)
	if errA == nil && errB == nil {
		if c := va.Compare(vb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	}
	return naturalCompare(a, b)
}

func naturalCompare(a, b string) int {
	sa, sb := segments(a), segments(b)
	for i := 0; i < len(sa) && i < len(sb); i++ {
		na, errA := strconv.Atoi(sa[i])
		nb, errB := strconv.Atoi(sb[i])
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case errA == nil:
			// Numbers sort before words.
			return -1
		case errB == nil:
			return 1
		default:
			if c := strings.Compare(sa[i], sb[i]); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(sa) < len(sb):
		return -1
	case len(sa) > len(sb):
		return 1
	}
	return 0
}

// segments splits a version string into runs of digits and runs of letters.
func segments(s string) []string {
	s = strings.TrimPrefix(strings.ToLower(s), "v")
	var out []string
	var cur strings.Builder
	digit := false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		isDigit := r >= '0' && r <= '9'
		isAlpha := r >= 'a' && r <= 'z'
		if !isDigit && !isAlpha {
			flush()
			continue
		}
		if cur.Len() > 0 && isDigit != digit {
			flush()
		}
		digit = isDigit
		cur.WriteRune(r)
	}
	flush()
	return out
}
