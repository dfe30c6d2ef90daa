package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"caliper/internal/errors"
	"caliper/internal/version"
)

var sha256Pattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// download streams url into path in ChunkSize pieces. When want is a sha256
// hex digest the content is verified before returning.
func (m *materializer) download(ctx context.Context, url, path, want string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.New(errors.DownloadFailed, "invalid download URL", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	m.logger.Debug("Downloading", "url", url, "to", path)
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.New(errors.DownloadFailed, fmt.Sprintf("downloading %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.DownloadFailed, "downloading %s: %s", url, resp.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.New(errors.DownloadFailed, "creating download file", err)
	}
	defer f.Close()

	var h hash.Hash
	var w io.Writer = f
	verify := sha256Pattern.MatchString(want)
	if verify {
		h = sha256.New()
		w = io.MultiWriter(f, h)
	}

	buf := make([]byte, m.opts.ChunkSize)
	n, err := io.CopyBuffer(w, resp.Body, buf)
	if err != nil {
		return errors.New(errors.DownloadFailed, fmt.Sprintf("reading %s", url), err)
	}
	if err := f.Sync(); err != nil {
		return errors.New(errors.DownloadFailed, "flushing download", err)
	}

	if verify {
		got := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(got, want) {
			return errors.Newf(errors.DownloadFailed, "sha256 mismatch for %s", url).
				WithDetails(map[string]interface{}{"want": want, "got": got})
		}
	}
	m.logger.Debug("Downloaded", "url", url, "bytes", n, "verified", verify)
	return nil
}
