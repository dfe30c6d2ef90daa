// Package metrics extracts versioned metrics from a synthetic package
// history and keeps saved results current.
package metrics

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"caliper/internal/config"
	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/history"
)

// Metric computes one kind of result for every revision of a history.
type Metric interface {
	Name() string
	Extract(ctx context.Context, repo *history.Repo) error
	// Results maps a version or "<from>..<to>" range to its result.
	Results(ctx context.Context) (map[string]interface{}, error)
}

// Env is what a metric may use while extracting.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
	// Store receives compspec facts; an in-memory store is used when nil.
	Store *factstore.Store
	Now   func() time.Time
}

// Registration describes a registered metric.
type Registration struct {
	Name        string
	Description string
	// DefaultFormat is the export format used when none is requested.
	DefaultFormat string
	New           func(env Env) Metric
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register adds a metric. It panics on an empty or duplicate name.
func Register(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if r.Name == "" || r.New == nil {
		panic("metrics: registration needs a name and constructor")
	}
	if _, dup := registry[r.Name]; dup {
		panic("metrics: duplicate registration of " + r.Name)
	}
	registry[r.Name] = r
}

// Lookup returns the registration for name.
func Lookup(name string) (Registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	if !ok {
		return Registration{}, errors.Newf(errors.UnknownMetric, "%s is not a known metric", name)
	}
	return r, nil
}

// Names lists registered metrics alphabetically.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search returns the registrations whose name matches the regular
// expression query. An empty query matches everything.
func Search(query string) ([]Registration, error) {
	re, err := regexp.Compile(query)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "invalid metric query", err)
	}
	var out []Registration
	for _, name := range Names() {
		if re.MatchString(name) {
			r, _ := Lookup(name)
			out = append(out, r)
		}
	}
	return out, nil
}

// Expand resolves a metric list where "all" stands for every metric.
func Expand(names []string) ([]string, error) {
	for _, n := range names {
		if n == "all" {
			return Names(), nil
		}
	}
	for _, n := range names {
		if _, err := Lookup(n); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
