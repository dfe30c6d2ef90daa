// Package history turns a sequence of package versions into a linear git
// history with one tagged commit per version.
package history

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"caliper/internal/errors"
	"caliper/internal/pkgindex"
	"caliper/internal/slogutil"
)

const (
	// EmptyTreeSHA is git's empty tree object, used as the parent of the
	// first revision.
	EmptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

	// AuthorName and AuthorEmail identify every synthetic commit.
	AuthorName  = "caliper"
	AuthorEmail = "caliper@users.noreply.github.com"

	// DefaultTimeout bounds a single git invocation.
	DefaultTimeout = 2 * time.Minute
)

// Revision is one tagged commit of the synthetic history.
type Revision struct {
	Tag       string    `json:"tag"`
	Commit    string    `json:"commit"`
	Parent    string    `json:"parent"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// FileStat is one line of a numstat diff.
type FileStat struct {
	Path       string `json:"object"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
	Lines      int    `json:"lines"`
}

// Repo runs git against one working tree.
type Repo struct {
	dir     string
	logger  *slog.Logger
	timeout time.Duration
}

// Open returns a Repo for dir. The directory need not be a repository yet.
func Open(dir string, logger *slog.Logger) *Repo {
	return &Repo{dir: dir, logger: slogutil.Or(logger), timeout: DefaultTimeout}
}

// Dir returns the working tree root.
func (r *Repo) Dir() string {
	return r.dir
}

// IsRepository reports whether dir already holds a git repository.
func (r *Repo) IsRepository() bool {
	info, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil && info.IsDir()
}

// Init creates an empty repository.
func (r *Repo) Init(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return errors.New(errors.GitFailed, "creating repository directory", err)
	}
	_, err := r.run(ctx, "init", "--quiet")
	return err
}

// Add stages path, including deletions. "." stages everything.
func (r *Repo) Add(ctx context.Context, path string) error {
	_, err := r.run(ctx, "add", "--all", "--", path)
	return err
}

// Commit records all tracked changes, even when there are none.
func (r *Repo) Commit(ctx context.Context, message string) error {
	_, err := r.run(ctx, "commit", "--all", "--allow-empty", "--quiet", "-m", message)
	return err
}

// Tag creates a lightweight tag at HEAD.
func (r *Repo) Tag(ctx context.Context, name string) error {
	_, err := r.run(ctx, "tag", name)
	return err
}

// Checkout moves the working tree to ref and drops untracked files.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	if _, err := r.run(ctx, "checkout", "--quiet", "--force", ref); err != nil {
		return err
	}
	_, err := r.run(ctx, "clean", "-fdxq")
	return err
}

// Tags returns every tagged revision ordered by version.
func (r *Repo) Tags(ctx context.Context) ([]Revision, error) {
	lines, err := r.runLines(ctx, "for-each-ref",
		"--format=%(refname:short)%09%(objectname)%09%(parent)%09%(authoremail)%09%(authordate:iso-strict)",
		"refs/tags")
	if err != nil {
		return nil, err
	}

	revs := make([]Revision, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			continue
		}
		rev := Revision{
			Tag:    fields[0],
			Commit: fields[1],
			Parent: firstField(fields[2]),
			Author: strings.Trim(fields[3], "<>"),
		}
		if rev.Parent == "" {
			rev.Parent = EmptyTreeSHA
		}
		if ts, err := time.Parse(time.RFC3339, fields[4]); err == nil {
			rev.Timestamp = ts
		}
		revs = append(revs, rev)
	}
	sort.SliceStable(revs, func(i, j int) bool {
		return pkgindex.CompareVersions(revs[i].Tag, revs[j].Tag) < 0
	})
	return revs, nil
}

// LsFiles lists tracked files at the current checkout.
func (r *Repo) LsFiles(ctx context.Context) ([]string, error) {
	return r.runLines(ctx, "ls-files")
}

// NumStat returns per-file insertions and deletions between two commits.
// Binary files count as zero lines.
func (r *Repo) NumStat(ctx context.Context, from, to string) ([]FileStat, error) {
	lines, err := r.runLines(ctx, "diff", "--numstat", "--no-renames", from, to)
	if err != nil {
		return nil, err
	}
	stats := make([]FileStat, 0, len(lines))
	for _, line := range lines {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		ins, _ := strconv.Atoi(fields[0])
		del, _ := strconv.Atoi(fields[1])
		stats = append(stats, FileStat{Path: fields[2], Insertions: ins, Deletions: del, Lines: ins + del})
	}
	return stats, nil
}

// CleanWorkTree removes everything except .git from the working tree.
func (r *Repo) CleanWorkTree() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return errors.New(errors.GitFailed, "reading working tree", err)
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.dir, e.Name())); err != nil {
			return errors.New(errors.GitFailed, "cleaning working tree", err)
		}
	}
	return nil
}

func firstField(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// run executes git in the working tree with a fixed identity and with
// system and global configuration ignored.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	full := append([]string{
		"-C", r.dir,
		"-c", "user.name=" + AuthorName,
		"-c", "user.email=" + AuthorEmail,
		"-c", "commit.gpgsign=false",
		"-c", "tag.gpgsign=false",
		"-c", "init.defaultBranch=main",
	}, args...)

	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL="+os.DevNull,
		"GIT_TERMINAL_PROMPT=0",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Executing git command", "args", args, "dir", r.dir)
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.New(errors.GitFailed, "git command timed out", err).
				WithDetails(map[string]interface{}{"args": args})
		}
		return "", errors.New(errors.GitFailed, "git "+args[0]+" failed", err).
			WithDetails(map[string]interface{}{"args": args, "stderr": strings.TrimSpace(stderr.String())})
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r *Repo) runLines(ctx context.Context, args ...string) ([]string, error) {
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return []string{}, nil
	}
	lines := strings.Split(out, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result, nil
}
