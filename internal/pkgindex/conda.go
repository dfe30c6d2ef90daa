package pkgindex

import (
	"context"
	"sort"
	"strings"

	"caliper/internal/errors"
)

// Conda lists builds from a channel's repodata.json. The package identifier
// is <channel>/<subdir>/<package>, e.g. conda-forge/noarch/sif.
type Conda struct {
	client  *client
	channel string
	pkg     string
	baseURL string
}

type condaRepodata struct {
	Packages map[string]condaPackage `json:"packages"`
}

type condaPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
	SHA256  string `json:"sha256"`
}

func newConda(c *client, id, baseURL string) (*Conda, error) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 || !strings.Contains(id[:i], "/") {
		return nil, errors.Newf(errors.InputMissing, "conda package %q must look like <channel>/<subdir>/<package>", id)
	}
	return &Conda{client: c, channel: id[:i], pkg: id[i+1:], baseURL: baseURL}, nil
}

func (c *Conda) Name() string    { return "conda" }
func (c *Conda) Package() string { return c.channel + "/" + c.pkg }

// Specs returns one tar.bz2 build per version. When a version has several
// builds the first archive name in sorted order wins. The package lives
// under site-packages/<name> inside each archive.
func (c *Conda) Specs(ctx context.Context) ([]VersionSpec, error) {
	var data condaRepodata
	if err := c.client.getJSON(ctx, c.baseURL+"/"+c.channel+"/repodata.json", nil, &data); err != nil {
		return nil, err
	}

	archives := make([]string, 0, len(data.Packages))
	for archive, meta := range data.Packages {
		if meta.Name == c.pkg {
			archives = append(archives, archive)
		}
	}
	if len(archives) == 0 {
		return nil, errors.Newf(errors.IndexRequestFailed, "package %s is not known to %s", c.pkg, c.channel)
	}
	sort.Strings(archives)

	seen := make(map[string]bool)
	var specs []VersionSpec
	for _, archive := range archives {
		meta := data.Packages[archive]
		if seen[meta.Version] {
			continue
		}
		seen[meta.Version] = true
		specs = append(specs, VersionSpec{
			Name:    c.pkg,
			Version: meta.Version,
			Source: Source{
				URL:    c.baseURL + "/" + c.channel + "/" + archive,
				Kind:   KindTarBz2,
				Subdir: "site-packages/" + c.pkg,
				Target: c.pkg,
			},
			Hash: meta.SHA256,
		})
	}
	SortSpecs(specs)
	c.client.logger.Info("Found versions", "package", c.Package(), "count", len(specs))
	return specs, nil
}
