package metrics

import (
	"context"
	"log/slog"

	"caliper/internal/history"
	"caliper/internal/slogutil"
)

// TimestampFormat is how revision times appear in results.
const TimestampFormat = "2006-01-02T15:04:05-0700"

func init() {
	Register(Registration{
		Name:          "totalcounts",
		Description:   "retrieve total counts of files for each commit",
		DefaultFormat: "json-single",
		New:           func(env Env) Metric { return &Totalcounts{logger: slogutil.Or(env.Logger)} },
	})
}

// Count is the totalcounts result for one version.
type Count struct {
	Commit    string `json:"commit"`
	Timestamp string `json:"timestamp"`
	Files     int    `json:"files"`
}

// Totalcounts counts tracked files at every tag.
type Totalcounts struct {
	logger *slog.Logger
	data   map[string]Count
}

func (m *Totalcounts) Name() string { return "totalcounts" }

func (m *Totalcounts) Extract(ctx context.Context, repo *history.Repo) error {
	revs, err := repo.Tags(ctx)
	if err != nil {
		return err
	}
	m.data = make(map[string]Count, len(revs))
	for _, rev := range revs {
		if err := repo.Checkout(ctx, rev.Commit); err != nil {
			return err
		}
		files, err := repo.LsFiles(ctx)
		if err != nil {
			return err
		}
		m.data[rev.Tag] = Count{
			Commit:    rev.Commit,
			Timestamp: rev.Timestamp.Format(TimestampFormat),
			Files:     len(files),
		}
	}
	m.logger.Debug("Counted files", "versions", len(revs))
	return nil
}

func (m *Totalcounts) Results(context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}
