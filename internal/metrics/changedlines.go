package metrics

import (
	"context"
	"log/slog"

	"caliper/internal/history"
	"caliper/internal/slogutil"
)

// EmptyLabel names the empty tree at the start of a range.
const EmptyLabel = "EMPTY"

func init() {
	Register(Registration{
		Name:          "changedlines",
		Description:   "count lines added and removed between versions",
		DefaultFormat: "json-single",
		New:           func(env Env) Metric { return &Changedlines{logger: slogutil.Or(env.Logger)} },
	})
}

// FileChange is one file's diff within a range.
type FileChange struct {
	history.FileStat
	Commit    string `json:"commit"`
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"`
}

// Change is the changedlines result for one "<parent>..<tag>" range.
type Change struct {
	Files      []FileChange `json:"files"`
	Insertions int          `json:"insertions"`
	Deletions  int          `json:"deletions"`
	Lines      int          `json:"lines"`
}

// Changedlines diffs each tag against its parent revision.
type Changedlines struct {
	logger *slog.Logger
	data   map[string]*Change
}

func (m *Changedlines) Name() string { return "changedlines" }

func (m *Changedlines) Extract(ctx context.Context, repo *history.Repo) error {
	revs, err := repo.Tags(ctx)
	if err != nil {
		return err
	}
	tagOf := make(map[string]string, len(revs))
	for _, rev := range revs {
		tagOf[rev.Commit] = rev.Tag
	}

	m.data = make(map[string]*Change, len(revs))
	for _, rev := range revs {
		parent, ok := tagOf[rev.Parent]
		if !ok {
			parent = EmptyLabel
		}
		stats, err := repo.NumStat(ctx, rev.Parent, rev.Commit)
		if err != nil {
			return err
		}

		change := &Change{Files: make([]FileChange, 0, len(stats))}
		for _, st := range stats {
			change.Files = append(change.Files, FileChange{
				FileStat:  st,
				Commit:    rev.Commit,
				Author:    rev.Author,
				Timestamp: rev.Timestamp.Format(TimestampFormat),
			})
			change.Insertions += st.Insertions
			change.Deletions += st.Deletions
			change.Lines += st.Lines
		}
		m.data[parent+".."+rev.Tag] = change
	}
	m.logger.Debug("Diffed versions", "ranges", len(m.data))
	return nil
}

func (m *Changedlines) Results(context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}
