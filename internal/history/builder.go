package history

import (
	"context"
	"fmt"
	"log/slog"

	"caliper/internal/archive"
	"caliper/internal/errors"
	"caliper/internal/pkgindex"
	"caliper/internal/slogutil"
)

// MaterializeFunc unpacks one version's source into dest.
type MaterializeFunc func(ctx context.Context, spec pkgindex.VersionSpec, dest string) error

// Skipped records a version left out of the history.
type Skipped struct {
	Version string `json:"version"`
	Reason  string `json:"reason"`
}

// Builder creates one tagged commit per version, oldest first.
type Builder struct {
	repo        *Repo
	materialize MaterializeFunc
	skipFailed  bool
	logger      *slog.Logger
	skipped     []Skipped
}

// NewBuilder returns a Builder that downloads sources with archive.Materialize.
// When skipFailed is set, versions whose download or extraction fails are
// skipped instead of aborting the build.
func NewBuilder(repo *Repo, opts archive.Options, skipFailed bool, logger *slog.Logger) *Builder {
	opts.Logger = slogutil.Or(logger)
	return &Builder{
		repo: repo,
		materialize: func(ctx context.Context, spec pkgindex.VersionSpec, dest string) error {
			_, err := archive.Materialize(ctx, spec, dest, opts)
			return err
		},
		skipFailed: skipFailed,
		logger:     slogutil.Or(logger),
	}
}

// WithMaterializer replaces the source materializer.
func (b *Builder) WithMaterializer(fn MaterializeFunc) *Builder {
	b.materialize = fn
	return b
}

// Skipped returns the versions left out by the last Build.
func (b *Builder) Skipped() []Skipped {
	return b.skipped
}

// Build initializes the repository and commits each spec. Specs are
// re-sorted by version; when specs is nil the manager is asked for them.
func (b *Builder) Build(ctx context.Context, manager pkgindex.Manager, specs []pkgindex.VersionSpec) ([]Revision, error) {
	if specs == nil {
		var err error
		if specs, err = manager.Specs(ctx); err != nil {
			return nil, err
		}
	}
	if len(specs) == 0 {
		return nil, errors.Newf(errors.InputMissing, "no versions to build for %s:%s", manager.Name(), manager.Package())
	}
	ordered := append([]pkgindex.VersionSpec(nil), specs...)
	pkgindex.SortSpecs(ordered)

	if !b.repo.IsRepository() {
		if err := b.repo.Init(ctx); err != nil {
			return nil, err
		}
	}

	b.skipped = nil
	for i, spec := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.logger.Info("Downloading and tagging version",
			"package", manager.Package(), "version", spec.Version, "n", i+1, "of", len(ordered))

		if err := b.repo.CleanWorkTree(); err != nil {
			return nil, err
		}
		if err := b.materialize(ctx, spec, b.repo.Dir()); err != nil {
			code := errors.CodeOf(err)
			if b.skipFailed && !errors.Fatal(code) && code != "" {
				b.logger.Warn("Skipping version", "version", spec.Version, "error", err)
				b.skipped = append(b.skipped, Skipped{Version: spec.Version, Reason: err.Error()})
				continue
			}
			return nil, fmt.Errorf("version %s: %w", spec.Version, err)
		}

		if err := b.repo.Add(ctx, "."); err != nil {
			return nil, err
		}
		if err := b.repo.Commit(ctx, spec.Version); err != nil {
			return nil, err
		}
		if err := b.repo.Tag(ctx, spec.Version); err != nil {
			return nil, err
		}
	}

	if len(b.skipped) > 0 {
		b.logger.Warn("Some versions were skipped", "package", manager.Package(), "skipped", len(b.skipped))
	}
	b.logger.Info("Repository created", "package", manager.Package(), "dir", b.repo.Dir())
	return b.repo.Tags(ctx)
}
