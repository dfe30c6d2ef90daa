package metrics

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"caliper/internal/archive"
	"caliper/internal/config"
	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/history"
	"caliper/internal/pkgindex"
	"caliper/internal/results"
	"caliper/internal/slogutil"
)

// Extractor runs metrics over the synthetic history of one package.
type Extractor struct {
	cfg         *config.Config
	manager     pkgindex.Manager
	logger      *slog.Logger
	store       *factstore.Store
	materialize history.MaterializeFunc
	now         func() time.Time

	workDir string
	repo    *history.Repo
	skipped []history.Skipped
	metrics map[string]Metric
	order   []string
}

// NewExtractor returns an Extractor for manager's package.
func NewExtractor(cfg *config.Config, manager pkgindex.Manager, logger *slog.Logger) *Extractor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	run := uuid.NewString()[:8]
	return &Extractor{
		cfg:     cfg,
		manager: manager,
		logger:  slogutil.Or(logger).With(slogutil.PackageKey, manager.Name()+":"+manager.Package(), slogutil.RunKey, run),
		metrics: map[string]Metric{},
	}
}

// WithStore makes compspec write into store instead of an in-memory one.
func (e *Extractor) WithStore(store *factstore.Store) *Extractor {
	e.store = store
	return e
}

// WithMaterializer replaces archive downloads, mainly for tests.
func (e *Extractor) WithMaterializer(fn history.MaterializeFunc) *Extractor {
	e.materialize = fn
	return e
}

// WithClock fixes the time used to label untagged extractions.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Repository returns the prepared history, or nil before Prepare.
func (e *Extractor) Repository() *history.Repo {
	return e.repo
}

// WorkDir returns the temporary working directory.
func (e *Extractor) WorkDir() string {
	return e.workDir
}

// Skipped lists the versions that could not be materialized.
func (e *Extractor) Skipped() []history.Skipped {
	return e.skipped
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Prepare builds the history in a fresh working directory. When versions
// is non-empty only those versions are included.
func (e *Extractor) Prepare(ctx context.Context, versions []string) error {
	specs, err := e.manager.Specs(ctx)
	if err != nil {
		return err
	}
	specs = pkgindex.Filter(specs, versions)
	if len(specs) == 0 {
		return errors.Newf(errors.InputMissing, "no matching versions for %s:%s", e.manager.Name(), e.manager.Package()).
			WithDetails(map[string]interface{}{"versions": versions})
	}

	if e.cfg.WorkDir != "" {
		if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
			return errors.New(errors.ConfigInvalid, "creating work directory", err)
		}
	}
	prefix := "caliper-" + unsafeChars.ReplaceAllString(e.manager.Name()+"-"+e.manager.Package(), "-") + "-"
	dir, err := os.MkdirTemp(e.cfg.WorkDir, prefix)
	if err != nil {
		return errors.New(errors.InternalError, "creating work directory", err)
	}
	e.workDir = dir
	e.repo = history.Open(filepath.Join(dir, "repo"), e.logger)

	b := history.NewBuilder(e.repo, archive.Options{
		ChunkSize: e.cfg.Download.ChunkSize,
		Timeout:   e.cfg.DownloadTimeout(),
	}, e.cfg.Download.SkipFailedVersions, e.logger)
	if e.materialize != nil {
		b.WithMaterializer(e.materialize)
	}

	revs, err := b.Build(ctx, e.manager, specs)
	e.skipped = b.Skipped()
	if err != nil {
		return err
	}
	e.logger.Info("History prepared", "versions", len(revs), "skipped", len(e.skipped), "dir", e.repo.Dir())
	return nil
}

// ExtractMetric runs one metric over the prepared history.
func (e *Extractor) ExtractMetric(ctx context.Context, name string) (Metric, error) {
	if e.repo == nil {
		return nil, errors.Newf(errors.InternalError, "extract %s before Prepare", name)
	}
	reg, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	m := reg.New(Env{Config: e.cfg, Logger: e.logger.With("metric", name), Store: e.store, Now: e.now})

	start := time.Now()
	if err := m.Extract(ctx, e.repo); err != nil {
		return nil, err
	}
	if old, seen := e.metrics[name]; !seen {
		e.order = append(e.order, name)
	} else if c, ok := old.(io.Closer); ok {
		c.Close()
	}
	e.metrics[name] = m
	e.logger.Info("Metric extracted", "metric", name, "duration", time.Since(start).Round(time.Millisecond))
	return m, nil
}

// ExtractAll runs each named metric; "all" expands to every registered one.
func (e *Extractor) ExtractAll(ctx context.Context, names []string) error {
	names, err := Expand(names)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := e.ExtractMetric(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Metric returns an extracted metric by name.
func (e *Extractor) Metric(name string) (Metric, bool) {
	m, ok := e.metrics[name]
	return m, ok
}

// SaveOptions controls SaveAll.
type SaveOptions struct {
	// Format overrides each metric's default export format.
	Format string
	Force  bool
	// Versions limits saved keys to those whose version is listed.
	Versions []string
}

// ResultsDir is where a metric's results for one package live.
func ResultsDir(outdir, manager, pkg, metric string) string {
	return filepath.Join(outdir, manager, filepath.FromSlash(pkg), metric)
}

// SaveAll writes every extracted metric under outdir and returns the
// directories that were written.
func (e *Extractor) SaveAll(ctx context.Context, outdir string, opts SaveOptions) ([]string, error) {
	if opts.Format != "" && !config.ValidFormat(opts.Format) {
		return nil, errors.Newf(errors.ConfigInvalid, "export format %q is not recognized", opts.Format)
	}
	keep := map[string]bool{}
	for _, v := range opts.Versions {
		keep[v] = true
	}

	var written []string
	for _, name := range e.order {
		reg, err := Lookup(name)
		if err != nil {
			return written, err
		}
		values, err := e.metrics[name].Results(ctx)
		if err != nil {
			return written, err
		}
		if len(keep) > 0 {
			for key := range values {
				if !keep[results.VersionOf(key)] {
					delete(values, key)
				}
			}
		}
		data, err := results.Encode(values)
		if err != nil {
			return written, err
		}

		format := opts.Format
		if format == "" {
			format = reg.DefaultFormat
		}
		dir := ResultsDir(outdir, e.manager.Name(), e.manager.Package(), name)
		ok, err := results.Save(dir, name, data, results.Options{Format: format, Force: opts.Force, Logger: e.logger})
		if err != nil {
			return written, err
		}
		if ok {
			written = append(written, dir)
		}
	}
	return written, nil
}

// Close releases resources held by extracted metrics.
func (e *Extractor) Close() error {
	var first error
	for _, name := range e.order {
		if c, ok := e.metrics[name].(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Cleanup removes the working directory unless the config keeps it.
func (e *Extractor) Cleanup() {
	if e.workDir == "" {
		return
	}
	if e.cfg.KeepWorkDir {
		e.logger.Info("Keeping work directory", "dir", e.workDir)
		return
	}
	if err := os.RemoveAll(e.workDir); err != nil {
		e.logger.Warn("Failed to remove work directory", "dir", e.workDir, "error", err)
		return
	}
	e.workDir = ""
}
