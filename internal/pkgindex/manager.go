package pkgindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"caliper/internal/errors"
	"caliper/internal/slogutil"
	"caliper/internal/version"
)

// Manager lists the released versions of one package in one index.
type Manager interface {
	// Name is the index scheme, e.g. "pypi".
	Name() string
	// Package is the package identifier within the index.
	Package() string
	// Specs returns the package's versions ordered oldest first.
	Specs(ctx context.Context) ([]VersionSpec, error)
}

// Schemes lists the supported index schemes.
var Schemes = []string{"pypi", "conda", "github", "dataverse"}

// Options configures the index clients.
type Options struct {
	Client           *http.Client
	Logger           *slog.Logger
	PyPIBaseURL      string
	CondaBaseURL     string
	GitHubBaseURL    string
	GitHubToken      string
	DataverseBaseURL string
}

const (
	defaultPyPIBaseURL      = "https://pypi.python.org/pypi"
	defaultCondaBaseURL     = "https://conda.anaconda.org"
	defaultGitHubBaseURL    = "https://api.github.com"
	defaultDataverseBaseURL = "https://dataverse.harvard.edu"
)

// ParseURI splits "<scheme>:<package>" into its parts.
func ParseURI(uri string) (scheme, pkg string, err error) {
	scheme, pkg, ok := strings.Cut(uri, ":")
	if !ok || scheme == "" || pkg == "" {
		return "", "", errors.Newf(errors.InputMissing, "package %q must look like <manager>:<package>", uri)
	}
	return strings.ToLower(scheme), pkg, nil
}

// New returns the manager for a package URI such as "pypi:sif".
func New(uri string, opts Options) (Manager, error) {
	scheme, pkg, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	c := newClient(opts)
	switch scheme {
	case "pypi":
		return &PyPI{client: c, pkg: pkg, baseURL: orDefault(opts.PyPIBaseURL, defaultPyPIBaseURL)}, nil
	case "conda":
		return newConda(c, pkg, orDefault(opts.CondaBaseURL, defaultCondaBaseURL))
	case "github":
		return &GitHub{client: c, pkg: pkg, baseURL: orDefault(opts.GitHubBaseURL, defaultGitHubBaseURL), token: opts.GitHubToken}, nil
	case "dataverse":
		return &Dataverse{client: c, pkg: pkg, baseURL: orDefault(opts.DataverseBaseURL, defaultDataverseBaseURL)}, nil
	}
	return nil, errors.Newf(errors.UnknownManager, "there is no manager for %q (known: %s)", scheme, strings.Join(Schemes, ", "))
}

// Filter keeps the specs whose version is listed. An empty list keeps all.
func Filter(specs []VersionSpec, versions []string) []VersionSpec {
	if len(versions) == 0 {
		return specs
	}
	want := make(map[string]bool, len(versions))
	for _, v := range versions {
		want[v] = true
	}
	out := make([]VersionSpec, 0, len(versions))
	for _, s := range specs {
		if want[s.Version] {
			out = append(out, s)
		}
	}
	return out
}

// Static is a Manager over a fixed list of specs.
type Static struct {
	Scheme  string
	Pkg     string
	Entries []VersionSpec
}

func (s *Static) Name() string    { return s.Scheme }
func (s *Static) Package() string { return s.Pkg }

func (s *Static) Specs(ctx context.Context) ([]VersionSpec, error) {
	out := append([]VersionSpec(nil), s.Entries...)
	SortSpecs(out)
	return out, nil
}

type client struct {
	http   *http.Client
	logger *slog.Logger
}

func newClient(opts Options) *client {
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &client{http: hc, logger: slogutil.Or(opts.Logger)}
}

// getJSON fetches url and decodes the JSON body into out.
func (c *client) getJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New(errors.IndexRequestFailed, "invalid index URL", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("Requesting index", "url", url)
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New(errors.IndexRequestFailed, fmt.Sprintf("request to %s failed", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf(errors.IndexRequestFailed, "error with %s: %s", url, resp.Status).
			WithDetails(map[string]interface{}{"status": resp.StatusCode, "body": string(body)})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.IndexRequestFailed, fmt.Sprintf("decoding response from %s", url), err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.TrimRight(v, "/")
}
