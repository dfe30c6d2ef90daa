// Package compat records compatibility facts observed while tracing a
// program against the fact store.
package compat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/pkgindex"
	"caliper/internal/tracer"
)

// Tag identifies the kind of a compatibility fact.
type Tag string

const (
	TagTooManyArgs   Tag = "too-many-args"
	TagMissingModule Tag = "missing-module"
)

// Global is the ledger group for facts that hold across every version.
const Global = "global"

// MissingReason is the reason given for missing-module facts.
const MissingReason = "This module was not found in the database for any version"

// Fact is one observed incompatibility.
type Fact struct {
	Version string
	Path    string
	Tag     Tag
	Reason  string
	Trace   tracer.Event
	// Module is the matched record; nil for missing-module facts.
	Module *factstore.Record
}

// key identifies a fact within its group. Missing-module facts are grouped
// by module but distinct per called path.
func (f Fact) key() string {
	path := f.Path
	if f.Trace.Path != "" {
		path = f.Trace.Path
	}
	return string(f.Tag) + "\x00" + f.Reason + "\x00" + path
}

// MarshalJSON writes missing-module facts with the event inlined and
// version facts as {trace, module, tag, reason}.
func (f Fact) MarshalJSON() ([]byte, error) {
	if f.Module == nil {
		return json.Marshal(struct {
			Tag    Tag    `json:"tag"`
			Reason string `json:"reason"`
			tracer.Event
		}{f.Tag, f.Reason, f.Trace})
	}
	return json.Marshal(struct {
		Trace  tracer.Event      `json:"trace"`
		Module *factstore.Record `json:"module"`
		Tag    Tag               `json:"tag"`
		Reason string            `json:"reason"`
	}{f.Trace, f.Module, f.Tag, f.Reason})
}

// Row is a flattened fact for table output.
type Row struct {
	Version string `json:"version"`
	Path    string `json:"path"`
	Tag     Tag    `json:"tag"`
	Reason  string `json:"reason"`
}

// Ledger accumulates facts grouped by version and then path. Facts with the
// same tag, reason and traced path are kept once per group.
type Ledger struct {
	mu       sync.Mutex
	facts    map[string]map[string][]Fact
	seen     map[string]map[string]bool
	versions map[string]bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		facts:    map[string]map[string][]Fact{},
		seen:     map[string]map[string]bool{},
		versions: map[string]bool{},
	}
}

// AddMissing records that ev's module is unknown in every version. The
// fact is grouped under Global by module.
func (l *Ledger) AddMissing(ev tracer.Event) bool {
	return l.add(Fact{
		Version: Global,
		Path:    ev.Module,
		Tag:     TagMissingModule,
		Reason:  MissingReason,
		Trace:   ev,
	})
}

// Add records f under its version and path. It reports whether the fact
// was new.
func (l *Ledger) Add(f Fact) bool {
	return l.add(f)
}

func (l *Ledger) add(f Fact) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen, ok := l.seen[f.Version]
	if !ok {
		seen = map[string]bool{}
		l.seen[f.Version] = seen
		l.facts[f.Version] = map[string][]Fact{}
	}
	if seen[f.key()] {
		return false
	}
	seen[f.key()] = true
	l.facts[f.Version][f.Path] = append(l.facts[f.Version][f.Path], f)
	return true
}

// SeeVersion notes that version was checked, whether or not it produced
// facts.
func (l *Ledger) SeeVersion(version string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.versions[version] = true
}

// Versions returns every version checked, in version order.
func (l *Ledger) Versions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.versions))
	for v := range l.versions {
		out = append(out, v)
	}
	pkgindex.SortVersions(out)
	return out
}

// Facts returns the facts recorded for version and path.
func (l *Ledger) Facts(version, path string) []Fact {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Fact(nil), l.facts[version][path]...)
}

// Len is the total number of facts.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, paths := range l.facts {
		for _, facts := range paths {
			n += len(facts)
		}
	}
	return n
}

// Rows flattens the ledger with global facts first, then versions in
// version order and paths sorted.
func (l *Ledger) Rows() []Row {
	l.mu.Lock()
	defer l.mu.Unlock()

	groups := make([]string, 0, len(l.facts))
	for g := range l.facts {
		if g != Global {
			groups = append(groups, g)
		}
	}
	pkgindex.SortVersions(groups)
	if _, ok := l.facts[Global]; ok {
		groups = append([]string{Global}, groups...)
	}

	var rows []Row
	for _, g := range groups {
		paths := make([]string, 0, len(l.facts[g]))
		for p := range l.facts[g] {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			for _, f := range l.facts[g][p] {
				rows = append(rows, Row{Version: g, Path: p, Tag: f.Tag, Reason: f.Reason})
			}
		}
	}
	return rows
}

// MarshalJSON writes {group: {path: [facts]}}.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(l.facts)
}

// Save writes the ledger as indented JSON to path.
func (l *Ledger) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return errors.New(errors.InternalError, "encoding compatibility ledger", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(errors.InternalError, "creating ledger directory", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.New(errors.InternalError, "writing compatibility ledger", err)
	}
	return nil
}
