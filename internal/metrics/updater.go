package metrics

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"caliper/internal/config"
	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/history"
	"caliper/internal/pkgindex"
	"caliper/internal/results"
	"caliper/internal/slogutil"
)

// ManagerOptions builds index client options from the config.
func ManagerOptions(cfg *config.Config, logger *slog.Logger) pkgindex.Options {
	return pkgindex.Options{
		Logger:           logger,
		GitHubBaseURL:    cfg.GitHub.BaseURL,
		GitHubToken:      cfg.GitHub.Token,
		DataverseBaseURL: cfg.Dataverse.BaseURL,
	}
}

// ManagerFunc resolves a "<manager>:<package>" URI.
type ManagerFunc func(uri string) (pkgindex.Manager, error)

// Runner extracts and updates several packages, a bounded number at a time.
type Runner struct {
	cfg         *config.Config
	logger      *slog.Logger
	managers    ManagerFunc
	materialize history.MaterializeFunc
}

// NewRunner returns a Runner resolving packages through the real indexes.
func NewRunner(cfg *config.Config, logger *slog.Logger) *Runner {
	logger = slogutil.Or(logger)
	opts := ManagerOptions(cfg, logger)
	return &Runner{
		cfg:    cfg,
		logger: logger,
		managers: func(uri string) (pkgindex.Manager, error) {
			return pkgindex.New(uri, opts)
		},
	}
}

// WithManagers replaces package resolution, mainly for tests.
func (r *Runner) WithManagers(fn ManagerFunc) *Runner {
	r.managers = fn
	return r
}

// WithMaterializer replaces archive downloads, mainly for tests.
func (r *Runner) WithMaterializer(fn history.MaterializeFunc) *Runner {
	r.materialize = fn
	return r
}

// ExtractOptions controls Extract.
type ExtractOptions struct {
	Metrics  []string
	Versions []string
	Format   string
	Outdir   string
	Force    bool
	// Database, when set, is a file-backed fact store for compspec. It can
	// only be used with a single package.
	Database string
}

// Outcome summarizes one package's extraction.
type Outcome struct {
	Package string            `json:"package"`
	Written []string          `json:"written"`
	Skipped []history.Skipped `json:"skipped,omitempty"`
	Issues  map[string]int    `json:"issues,omitempty"`
}

// Extract runs the requested metrics for each package and saves them.
func (r *Runner) Extract(ctx context.Context, uris []string, opts ExtractOptions) ([]Outcome, error) {
	if len(uris) == 0 {
		return nil, errors.Newf(errors.InputMissing, "no packages given")
	}
	if opts.Database != "" && len(uris) > 1 {
		return nil, errors.Newf(errors.ConfigInvalid, "a fact database can only be used with one package")
	}
	names, err := Expand(opts.Metrics)
	if err != nil {
		return nil, err
	}
	if opts.Format != "" && !config.ValidFormat(opts.Format) {
		return nil, errors.Newf(errors.ConfigInvalid, "export format %q is not recognized", opts.Format)
	}

	out := make([]Outcome, len(uris))
	err = r.each(ctx, len(uris), func(ctx context.Context, i int) error {
		o, err := r.extractOne(ctx, uris[i], names, opts)
		out[i] = o
		return err
	})
	return out, err
}

func (r *Runner) extractOne(ctx context.Context, uri string, names []string, opts ExtractOptions) (Outcome, error) {
	outcome := Outcome{Package: uri}
	manager, err := r.managers(uri)
	if err != nil {
		return outcome, err
	}

	e := r.extractor(manager)
	if opts.Database != "" {
		store, err := factstore.Open(opts.Database, r.logger)
		if err != nil {
			return outcome, err
		}
		defer store.Close()
		e.WithStore(store)
	}
	defer e.Cleanup()
	defer e.Close()

	if err := e.Prepare(ctx, opts.Versions); err != nil {
		return outcome, err
	}
	outcome.Skipped = e.Skipped()
	if err := e.ExtractAll(ctx, names); err != nil {
		return outcome, err
	}
	if m, ok := e.Metric("compspec"); ok {
		outcome.Issues = m.(*Compspec).Issues()
	}
	outcome.Written, err = e.SaveAll(ctx, opts.Outdir, SaveOptions{Format: opts.Format, Force: opts.Force})
	return outcome, err
}

// Status describes how current one package's saved metric is.
type Status struct {
	Package string   `json:"package"`
	Metric  string   `json:"metric"`
	Indexed bool     `json:"indexed"`
	Current []string `json:"current"`
	// Missing lists released versions with no saved result.
	Missing []string `json:"missing"`

	available []string
}

// Check compares each package's saved results in outdir against the
// versions its index currently lists.
func (r *Runner) Check(ctx context.Context, outdir string, pkgs []config.PackageConfig) ([]Status, error) {
	out := make([][]Status, len(pkgs))
	err := r.each(ctx, len(pkgs), func(ctx context.Context, i int) error {
		st, err := r.checkOne(ctx, outdir, pkgs[i])
		out[i] = st
		return err
	})
	var flat []Status
	for _, st := range out {
		flat = append(flat, st...)
	}
	return flat, err
}

func (r *Runner) checkOne(ctx context.Context, outdir string, pkg config.PackageConfig) ([]Status, error) {
	manager, err := r.managers(pkg.Name)
	if err != nil {
		return nil, err
	}
	names := pkg.Metrics
	if len(names) == 0 {
		names = []string{"all"}
	}
	if names, err = Expand(names); err != nil {
		return nil, err
	}
	specs, err := manager.Specs(ctx)
	if err != nil {
		return nil, err
	}
	available := make([]string, 0, len(specs))
	for _, s := range specs {
		available = append(available, s.Version)
	}
	pkgindex.SortVersions(available)

	var out []Status
	for _, name := range names {
		st := Status{Package: pkg.Name, Metric: name, Current: []string{}, available: available}
		index := filepath.Join(ResultsDir(outdir, manager.Name(), manager.Package(), name), results.IndexFile)
		if _, err := os.Stat(index); err == nil {
			data, err := results.Read(index, name)
			if err != nil {
				return nil, err
			}
			st.Indexed = true
			st.Current = results.Versions(data)
		}
		have := map[string]bool{}
		for _, v := range st.Current {
			have[v] = true
		}
		st.Missing = []string{}
		for _, v := range available {
			if !have[v] {
				st.Missing = append(st.Missing, v)
			}
		}
		r.logger.Info("Checked metric", "package", pkg.Name, "metric", name,
			"current", len(st.Current), "missing", len(st.Missing))
		out = append(out, st)
	}
	return out, nil
}

// Update extracts only the missing versions of each package's metrics and
// merges them into the saved results. The statuses found before updating
// are returned.
func (r *Runner) Update(ctx context.Context, outdir, format string, pkgs []config.PackageConfig) ([]Status, error) {
	statuses, err := r.Check(ctx, outdir, pkgs)
	if err != nil {
		return statuses, err
	}

	byPackage := map[string][]Status{}
	var order []string
	for _, st := range statuses {
		if len(st.Missing) == 0 {
			continue
		}
		if _, ok := byPackage[st.Package]; !ok {
			order = append(order, st.Package)
		}
		byPackage[st.Package] = append(byPackage[st.Package], st)
	}
	if len(order) == 0 {
		r.logger.Info("All metrics are up to date")
		return statuses, nil
	}

	err = r.each(ctx, len(order), func(ctx context.Context, i int) error {
		return r.updateOne(ctx, outdir, format, byPackage[order[i]])
	})
	return statuses, err
}

func (r *Runner) updateOne(ctx context.Context, outdir, format string, statuses []Status) error {
	manager, err := r.managers(statuses[0].Package)
	if err != nil {
		return err
	}

	// Each missing version is built after its predecessor so range metrics
	// diff against the right parent.
	build := map[string]bool{}
	var missing, names []string
	for _, st := range statuses {
		names = append(names, st.Metric)
		for _, v := range st.Missing {
			if !build[v] {
				missing = append(missing, v)
			}
			build[v] = true
		}
		for i, v := range st.available {
			if i > 0 && contains(st.Missing, v) {
				build[st.available[i-1]] = true
			}
		}
	}
	versions := make([]string, 0, len(build))
	for v := range build {
		versions = append(versions, v)
	}
	pkgindex.SortVersions(versions)

	e := r.extractor(manager)
	defer e.Cleanup()
	defer e.Close()

	if err := e.Prepare(ctx, versions); err != nil {
		return err
	}
	if err := e.ExtractAll(ctx, names); err != nil {
		return err
	}
	_, err = e.SaveAll(ctx, outdir, SaveOptions{Format: format, Force: true, Versions: missing})
	return err
}

func (r *Runner) extractor(manager pkgindex.Manager) *Extractor {
	e := NewExtractor(r.cfg, manager, r.logger)
	if r.materialize != nil {
		e.WithMaterializer(r.materialize)
	}
	return e
}

// each runs fn for indexes [0, n) on at most config.Workers goroutines.
func (r *Runner) each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.Workers
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
