// Package results writes and reads metric result files and the index.json
// that describes them.
package results

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"caliper/internal/errors"
	"caliper/internal/pkgindex"
	"caliper/internal/slogutil"
)

// Export formats.
const (
	FormatJSON       = "json"
	FormatJSONSingle = "json-single"
	FormatZip        = "zip"
)

// IndexFile is the name of the per-metric index.
const IndexFile = "index.json"

// Data maps a version, or a "<from>..<to>" range, to its result.
type Data map[string]json.RawMessage

// Entry locates the files of one export format.
type Entry struct {
	URL  string   `json:"url,omitempty"`
	URLs []string `json:"urls,omitempty"`
}

// Index is the content of index.json.
type Index struct {
	Data map[string]Entry `json:"data"`
}

// Options controls Save.
type Options struct {
	Format string
	// Force merges into and overwrites existing results; without it a
	// metric that already has an index is left untouched.
	Force  bool
	Logger *slog.Logger
}

// Encode converts typed results into Data.
func Encode(values map[string]interface{}) (Data, error) {
	out := make(Data, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.New(errors.InternalError, "encoding result "+k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Save writes data for metric into dir, which is
// <outdir>/<manager>/<package>/<metric>. Results already present are
// merged with data, data winning on conflicting keys. It reports whether
// anything was written.
func Save(dir, metric string, data Data, opts Options) (bool, error) {
	logger := slogutil.Or(opts.Logger)
	indexPath := filepath.Join(dir, IndexFile)

	if _, err := os.Stat(indexPath); err == nil {
		if !opts.Force {
			logger.Warn("Results exist, use force to overwrite", "metric", metric, "dir", dir)
			return false, nil
		}
		existing, err := Read(indexPath, metric)
		if err != nil {
			return false, err
		}
		for k, v := range existing {
			if _, ok := data[k]; !ok {
				data[k] = v
			}
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, errors.New(errors.InternalError, "creating results directory", err)
	}

	var (
		entry Entry
		err   error
	)
	switch opts.Format {
	case FormatJSONSingle:
		entry.URL = metric + "-results.json"
		err = writeJSON(filepath.Join(dir, entry.URL), data)
	case FormatZip:
		entry.URL = metric + "-results.zip"
		err = writeZip(filepath.Join(dir, entry.URL), metric+"-results.json", data)
	case FormatJSON:
		entry.URLs, err = writePerKey(dir, metric, data)
	default:
		return false, errors.Newf(errors.ConfigInvalid, "export format %q is not recognized", opts.Format)
	}
	if err != nil {
		return false, err
	}

	index := Index{Data: map[string]Entry{opts.Format: entry}}
	if err := writeJSON(indexPath, index); err != nil {
		return false, err
	}
	logger.Info("Results written", "metric", metric, "format", opts.Format, "dir", dir, "entries", len(data))
	return true, nil
}

// Read loads the results described by an index file. json-single is
// preferred, then zip, then per-key json files.
func Read(indexPath, metric string) (Data, error) {
	var index Index
	if err := readJSON(indexPath, &index); err != nil {
		return nil, err
	}
	dir := filepath.Dir(indexPath)

	if e, ok := index.Data[FormatJSONSingle]; ok {
		path := filepath.Join(dir, e.URL)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			var data Data
			if err := readJSON(path, &data); err != nil {
				return nil, err
			}
			return data, nil
		}
	}
	if e, ok := index.Data[FormatZip]; ok {
		return readZip(filepath.Join(dir, e.URL), metric+"-results.json")
	}
	if e, ok := index.Data[FormatJSON]; ok {
		data := Data{}
		for _, name := range e.URLs {
			var part Data
			if err := readJSON(filepath.Join(dir, name), &part); err != nil {
				return nil, err
			}
			for k, v := range part {
				data[k] = v
			}
		}
		return data, nil
	}
	return Data{}, nil
}

// Versions lists the versions covered by data. Range keys contribute both
// ends except the EMPTY start marker.
func Versions(data Data) []string {
	seen := map[string]bool{}
	for key := range data {
		from, to, isRange := strings.Cut(key, "..")
		if !isRange {
			seen[key] = true
			continue
		}
		if from != "EMPTY" {
			seen[from] = true
		}
		seen[to] = true
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	pkgindex.SortVersions(out)
	return out
}

// VersionOf is the version a result key describes: the key itself, or the
// end of a range.
func VersionOf(key string) string {
	if _, to, ok := strings.Cut(key, ".."); ok {
		return to
	}
	return key
}

func sortedKeys(data Data) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return pkgindex.CompareVersions(VersionOf(keys[i]), VersionOf(keys[j])) < 0
	})
	return keys
}

func writePerKey(dir, metric string, data Data) ([]string, error) {
	var names []string
	for _, key := range sortedKeys(data) {
		name := metric + "-" + strings.NewReplacer("/", "-", string(filepath.Separator), "-").Replace(key) + "-results.json"
		if err := writeJSON(filepath.Join(dir, name), Data{key: data[key]}); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func encode(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.New(errors.InternalError, "encoding results", err)
	}
	return append(data, '\n'), nil
}

func writeJSON(path string, v interface{}) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.InternalError, "writing "+path, err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(errors.InputMissing, "reading "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(errors.InputMissing, "decoding "+path, err)
	}
	return nil
}

func writeZip(path, member string, data Data) error {
	content, err := encode(data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(member)
	if err == nil {
		_, err = w.Write(content)
	}
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		return errors.New(errors.InternalError, "creating "+path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.New(errors.InternalError, "writing "+path, err)
	}
	return nil
}

func readZip(path, member string) (Data, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.New(errors.InputMissing, "opening "+path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != member {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.New(errors.InputMissing, "opening "+member, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.New(errors.InputMissing, "reading "+member, err)
		}
		var data Data
		if err := json.Unmarshal(content, &data); err != nil {
			return nil, errors.New(errors.InputMissing, "decoding "+member, err)
		}
		return data, nil
	}
	return nil, errors.Newf(errors.InputMissing, "%s has no member %s", path, member)
}
