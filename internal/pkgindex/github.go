package pkgindex

import (
	"context"
)

// GitHub lists repository releases. Each release becomes a tarball spec.
type GitHub struct {
	client  *client
	pkg     string
	baseURL string
	token   string
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	TarballURL string `json:"tarball_url"`
}

func (g *GitHub) Name() string    { return "github" }
func (g *GitHub) Package() string { return g.pkg }

// Specs returns up to one page (100) of releases ordered by tag version.
func (g *GitHub) Specs(ctx context.Context) ([]VersionSpec, error) {
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if g.token != "" {
		headers["Authorization"] = "token " + g.token
	}

	var releases []githubRelease
	if err := g.client.getJSON(ctx, g.baseURL+"/repos/"+g.pkg+"/releases?per_page=100", headers, &releases); err != nil {
		return nil, err
	}

	specs := make([]VersionSpec, 0, len(releases))
	for _, r := range releases {
		if r.TagName == "" || r.TarballURL == "" {
			continue
		}
		specs = append(specs, VersionSpec{
			Name:    g.pkg,
			Version: r.TagName,
			Source:  Source{URL: r.TarballURL, Kind: KindTarGz},
		})
	}
	SortSpecs(specs)
	g.client.logger.Info("Found versions", "package", g.pkg, "count", len(specs))
	return specs, nil
}
