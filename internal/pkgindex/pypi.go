package pkgindex

import (
	"context"
	"net/url"
)

// PyPI lists releases from the PyPI JSON API.
type PyPI struct {
	client  *client
	pkg     string
	baseURL string
}

type pypiProject struct {
	Releases map[string][]pypiFile `json:"releases"`
}

type pypiFile struct {
	URL           string `json:"url"`
	Filename      string `json:"filename"`
	PackageType   string `json:"packagetype"`
	PythonVersion string `json:"python_version"`
	Digests       struct {
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

func (p *PyPI) Name() string    { return "pypi" }
func (p *PyPI) Package() string { return p.pkg }

// Specs returns one spec per non-empty release, preferring the source
// distribution over wheels.
func (p *PyPI) Specs(ctx context.Context) ([]VersionSpec, error) {
	var project pypiProject
	if err := p.client.getJSON(ctx, p.baseURL+"/"+url.PathEscape(p.pkg)+"/json", nil, &project); err != nil {
		return nil, err
	}

	specs := make([]VersionSpec, 0, len(project.Releases))
	for v, files := range project.Releases {
		f, kind, ok := pickPyPIFile(files)
		if !ok {
			continue
		}
		specs = append(specs, VersionSpec{
			Name:    p.pkg,
			Version: v,
			Source:  Source{URL: f.URL, Kind: kind},
			Hash:    f.Digests.SHA256,
		})
	}
	SortSpecs(specs)
	p.client.logger.Info("Found versions", "package", p.pkg, "count", len(specs))
	return specs, nil
}

func pickPyPIFile(files []pypiFile) (pypiFile, Kind, bool) {
	var fallback *pypiFile
	var fallbackKind Kind
	for i := range files {
		name := files[i].Filename
		if name == "" {
			name = files[i].URL
		}
		kind, ok := KindFromFilename(name)
		if !ok {
			continue
		}
		if files[i].PackageType == "sdist" || files[i].PythonVersion == "source" {
			return files[i], kind, true
		}
		if fallback == nil {
			fallback, fallbackKind = &files[i], kind
		}
	}
	if fallback == nil {
		return pypiFile{}, "", false
	}
	return *fallback, fallbackKind, true
}
