package metrics

import (
	"context"
	"log/slog"
	"path/filepath"

	"caliper/internal/config"
	"caliper/internal/discover"
	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/history"
	"caliper/internal/pyparse"
	"caliper/internal/slogutil"
)

// DateTagFormat labels an untagged working-tree extraction.
const DateTagFormat = "2006-01-02"

func init() {
	Register(Registration{
		Name:          "compspec",
		Description:   "extract function, class and import facts for each version",
		DefaultFormat: "json",
		New:           newCompspec,
	})
}

// Compspec parses every Python module of every revision into a fact store.
type Compspec struct {
	env    Env
	logger *slog.Logger
	store  *factstore.Store
	// owned is set when the store was opened here and must be closed here.
	owned  bool
	issues map[string]int
	tags   []string
}

func newCompspec(env Env) Metric {
	return &Compspec{env: env, logger: slogutil.Or(env.Logger), store: env.Store, issues: map[string]int{}}
}

func (m *Compspec) Name() string { return "compspec" }

// Store returns the fact store, opening an in-memory one on first use.
func (m *Compspec) Store() (*factstore.Store, error) {
	if m.store == nil {
		s, err := factstore.OpenMemory(m.logger)
		if err != nil {
			return nil, err
		}
		m.store, m.owned = s, true
	}
	return m.store, nil
}

// Issues returns, per version, how many files fell back to the lenient
// scanner or were skipped as unparseable.
func (m *Compspec) Issues() map[string]int {
	out := make(map[string]int, len(m.issues))
	for k, v := range m.issues {
		out[k] = v
	}
	return out
}

// Tags lists the labels extracted so far, in extraction order.
func (m *Compspec) Tags() []string {
	return append([]string(nil), m.tags...)
}

func (m *Compspec) Extract(ctx context.Context, repo *history.Repo) error {
	var revs []history.Revision
	if repo.IsRepository() {
		var err error
		if revs, err = repo.Tags(ctx); err != nil {
			return err
		}
	}

	if len(revs) == 0 {
		tag := m.env.now().Format(DateTagFormat)
		m.logger.Warn("No tags found, extracting the current working tree", "dir", repo.Dir(), "tag", tag)
		return m.extractTree(ctx, repo.Dir(), tag)
	}

	for _, rev := range revs {
		if err := repo.Checkout(ctx, rev.Commit); err != nil {
			return err
		}
		if err := m.extractTree(ctx, repo.Dir(), rev.Tag); err != nil {
			return err
		}
	}
	return nil
}

func (m *Compspec) extractTree(ctx context.Context, root, tag string) error {
	store, err := m.Store()
	if err != nil {
		return err
	}

	opts := discover.Options{Include: "**/*.py", ModulesOnly: true}
	if cfg := m.env.Config; cfg != nil {
		opts = parserOptions(cfg.Parser)
	}
	files, err := discover.Files(root, opts)
	if err != nil {
		return err
	}
	srcLayout := pyparse.DetectSrcLayout(root)

	m.tags = append(m.tags, tag)
	if _, ok := m.issues[tag]; !ok {
		m.issues[tag] = 0
	}

	modules := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		file := filepath.Join(root, filepath.FromSlash(rel))
		module := pyparse.ModulePath(root, file, srcLayout)
		if module == "" {
			continue
		}

		facts, err := pyparse.ParseModule(ctx, file, module, tag)
		if err != nil {
			if errors.Is(err, errors.ParseFailed) {
				m.logger.Warn("Skipping unparseable file", "file", rel, "version", tag, "error", err)
				m.issues[tag]++
				continue
			}
			return err
		}
		if facts.Fallback {
			m.logger.Debug("Parsed with lenient scanner", "file", rel, "version", tag)
			m.issues[tag]++
		}
		if err := store.WriteModule(ctx, facts); err != nil {
			return err
		}
		modules++
	}

	m.logger.Info("Extracted facts", "version", tag, "modules", modules, "issues", m.issues[tag])
	return nil
}

// Results returns the export document, version to module to facts.
func (m *Compspec) Results(ctx context.Context) (map[string]interface{}, error) {
	store, err := m.Store()
	if err != nil {
		return nil, err
	}
	doc, err := store.Dump(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(doc))
	for tag, modules := range doc {
		out[tag] = modules
	}
	return out, nil
}

// Close releases a store opened by the metric itself.
func (m *Compspec) Close() error {
	if m.owned && m.store != nil {
		err := m.store.Close()
		m.store, m.owned = nil, false
		return err
	}
	return nil
}

func parserOptions(p config.ParserConfig) discover.Options {
	return discover.Options{Include: p.Include, Exclude: p.Exclude, ModulesOnly: p.ModulesOnly}
}
