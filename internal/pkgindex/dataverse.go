package pkgindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Dataverse resolves a dataset DOI to its latest version. Datasets carry a
// file listing instead of an archive, so there is only ever one spec.
type Dataverse struct {
	client  *client
	pkg     string
	baseURL string
}

type dataverseDataset struct {
	Data struct {
		Identifier    string `json:"identifier"`
		LatestVersion struct {
			VersionNumber      int `json:"versionNumber"`
			VersionMinorNumber int `json:"versionMinorNumber"`
			Files              []struct {
				DataFile struct {
					ID       int64  `json:"id"`
					Filename string `json:"filename"`
				} `json:"dataFile"`
			} `json:"files"`
		} `json:"latestVersion"`
	} `json:"data"`
}

func (d *Dataverse) Name() string    { return "dataverse" }
func (d *Dataverse) Package() string { return d.pkg }

func (d *Dataverse) Specs(ctx context.Context) ([]VersionSpec, error) {
	var ds dataverseDataset
	endpoint := d.baseURL + "/api/datasets/:persistentId/?persistentId=" + url.QueryEscape(d.pkg)
	if err := d.client.getJSON(ctx, endpoint, nil, &ds); err != nil {
		return nil, err
	}

	latest := ds.Data.LatestVersion
	spec := VersionSpec{
		Name:    d.pkg,
		Version: strconv.Itoa(latest.VersionNumber),
		Source:  Source{Kind: KindFiles},
		Hash:    ds.Data.Identifier,
	}
	if latest.VersionMinorNumber > 0 {
		spec.Version = fmt.Sprintf("%d.%d", latest.VersionNumber, latest.VersionMinorNumber)
	}
	for _, f := range latest.Files {
		spec.Files = append(spec.Files, File{
			Name: f.DataFile.Filename,
			URL:  fmt.Sprintf("%s/api/access/datafile/%d", d.baseURL, f.DataFile.ID),
		})
	}
	return []VersionSpec{spec}, nil
}
