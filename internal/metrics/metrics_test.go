package metrics

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"caliper/internal/config"
	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/history"
	"caliper/internal/pkgindex"
	"caliper/internal/pyparse"
	"caliper/internal/results"
	"caliper/internal/slogutil"
	"caliper/internal/testutil"
)

const gSource = "def g(a, b=1):\n    pass\n"

func fakeSources(t *testing.T, trees map[string]testutil.Files) history.MaterializeFunc {
	return func(ctx context.Context, spec pkgindex.VersionSpec, dest string) error {
		files, ok := trees[spec.Version]
		if !ok {
			return errors.Newf(errors.DownloadFailed, "no source for %s", spec.Version)
		}
		testutil.WriteTree(t, dest, files)
		return nil
	}
}

func staticManager(trees map[string]testutil.Files) *pkgindex.Static {
	m := &pkgindex.Static{Scheme: "pypi", Pkg: "pkg"}
	for v := range trees {
		m.Entries = append(m.Entries, pkgindex.VersionSpec{Name: "pkg", Version: v})
	}
	return m
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	cfg.Workers = 2
	return cfg
}

func prepared(t *testing.T, trees map[string]testutil.Files) *Extractor {
	t.Helper()
	testutil.RequireGit(t)
	e := NewExtractor(testConfig(t), staticManager(trees), slogutil.NewDiscardLogger()).
		WithMaterializer(fakeSources(t, trees))
	if err := e.Prepare(context.Background(), nil); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	t.Cleanup(func() {
		e.Close()
		e.Cleanup()
	})
	return e
}

func threeVersions() map[string]testutil.Files {
	return map[string]testutil.Files{
		"0.0.1":  {"pkg/__init__.py": gSource},
		"0.0.2":  {"pkg/__init__.py": gSource, "pkg/util.py": "import os\n"},
		"0.0.10": {"pkg/__init__.py": gSource},
	}
}

func TestRegistry(t *testing.T) {
	if got, want := Names(), []string{"changedlines", "compspec", "totalcounts"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"changedlines", "compspec", "totalcounts"}},
		{"counts$", []string{"totalcounts"}},
		{"^c", []string{"changedlines", "compspec"}},
		{"nothing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			regs, err := Search(tt.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			var got []string
			for _, r := range regs {
				got = append(got, r.Name)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Search(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}

	if _, err := Search("("); !errors.Is(err, errors.ConfigInvalid) {
		t.Errorf("Search with bad pattern error = %v, want CONFIG_INVALID", err)
	}
	if _, err := Lookup("nope"); !errors.Is(err, errors.UnknownMetric) {
		t.Errorf("Lookup() error = %v, want UNKNOWN_METRIC", err)
	}
	if _, err := Expand([]string{"compspec", "nope"}); !errors.Is(err, errors.UnknownMetric) {
		t.Errorf("Expand() error = %v, want UNKNOWN_METRIC", err)
	}
	if got, _ := Expand([]string{"all"}); len(got) != 3 {
		t.Errorf("Expand(all) = %v", got)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	Register(Registration{Name: "compspec", New: newCompspec})
}

func TestCompspecThreeVersions(t *testing.T) {
	e := prepared(t, threeVersions())
	ctx := context.Background()

	m, err := e.ExtractMetric(ctx, "compspec")
	if err != nil {
		t.Fatalf("ExtractMetric() error = %v", err)
	}
	cs := m.(*Compspec)
	if got, want := cs.Tags(), []string{"0.0.1", "0.0.2", "0.0.10"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Tags() = %v, want %v", got, want)
	}

	res, err := cs.Results(ctx)
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	want := []pyparse.Param{{Name: "a", Position: 0}, {Name: "b", Position: 1, Default: int64(1)}}
	for _, tag := range []string{"0.0.1", "0.0.2", "0.0.10"} {
		modules, ok := res[tag].(map[string]*factstore.ModuleDoc)
		if !ok {
			t.Fatalf("results[%s] = %T", tag, res[tag])
		}
		doc := modules["pkg"]
		if doc == nil || len(doc.Exports) != 1 {
			t.Fatalf("results[%s][pkg] = %+v", tag, doc)
		}
		if exp := doc.Exports[0]; exp.Path != "pkg.g" || !reflect.DeepEqual(exp.Params, want) {
			t.Errorf("%s: export = %+v", tag, exp)
		}
		if len(doc.Imports) != 0 {
			t.Errorf("%s: imports = %v, want none", tag, doc.Imports)
		}
	}
	if _, ok := res["0.0.2"].(map[string]*factstore.ModuleDoc)["pkg.util"]; !ok {
		t.Error("pkg.util missing at 0.0.2")
	}
	if _, ok := res["0.0.10"].(map[string]*factstore.ModuleDoc)["pkg.util"]; ok {
		t.Error("pkg.util should be gone at 0.0.10")
	}

	// A fresh extraction of the same history produces identical output.
	again, err := e.ExtractMetric(ctx, "compspec")
	if err != nil {
		t.Fatal(err)
	}
	res2, _ := again.Results(ctx)
	a := testutil.MarshalNormalized(t, "", res)
	b := testutil.MarshalNormalized(t, "", res2)
	if string(a) != string(b) {
		t.Error("re-extraction is not byte-identical")
	}
}

func TestCompspecWithoutTags(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.Files{"pkg/__init__.py": gSource})
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	m := newCompspec(Env{Logger: slogutil.NewDiscardLogger(), Now: func() time.Time { return now }}).(*Compspec)
	defer m.Close()
	if err := m.Extract(context.Background(), history.Open(dir, nil)); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	res, err := m.Results(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res["2024-03-09"]; !ok || len(res) != 1 {
		t.Errorf("results keys = %v, want [2024-03-09]", keys(res))
	}
}

func TestCompspecSkipsBinaryFiles(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.Files{
		"pkg/__init__.py": gSource,
		"pkg/blob.py":     "def (\xff\xfe\x00\x01",
	})
	m := newCompspec(Env{Logger: slogutil.NewDiscardLogger()}).(*Compspec)
	defer m.Close()
	if err := m.Extract(context.Background(), history.Open(dir, nil)); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for tag, n := range m.Issues() {
		if n != 1 {
			t.Errorf("issues[%s] = %d, want 1", tag, n)
		}
	}
}

func TestTotalcounts(t *testing.T) {
	e := prepared(t, threeVersions())
	ctx := context.Background()
	m, err := e.ExtractMetric(ctx, "totalcounts")
	if err != nil {
		t.Fatalf("ExtractMetric() error = %v", err)
	}
	res, _ := m.Results(ctx)

	files := map[string]int{}
	for tag, v := range res {
		c := v.(Count)
		files[tag] = c.Files
		if len(c.Commit) != 40 {
			t.Errorf("%s: commit = %q", tag, c.Commit)
		}
		if _, err := time.Parse(TimestampFormat, c.Timestamp); err != nil {
			t.Errorf("%s: timestamp %q: %v", tag, c.Timestamp, err)
		}
	}
	if want := map[string]int{"0.0.1": 1, "0.0.2": 2, "0.0.10": 1}; !reflect.DeepEqual(files, want) {
		t.Errorf("file counts = %v, want %v", files, want)
	}
}

func TestTotalcountsFileNamedAfterVersion(t *testing.T) {
	trees := threeVersions()
	trees["0.0.2"]["0.0.1"] = "release notes\n"
	trees["0.0.10"]["0.0.1"] = "release notes\n"
	e := prepared(t, trees)
	ctx := context.Background()
	m, err := e.ExtractMetric(ctx, "totalcounts")
	if err != nil {
		t.Fatalf("ExtractMetric() error = %v", err)
	}
	res, _ := m.Results(ctx)
	files := map[string]int{}
	for tag, v := range res {
		files[tag] = v.(Count).Files
	}
	if want := map[string]int{"0.0.1": 1, "0.0.2": 3, "0.0.10": 2}; !reflect.DeepEqual(files, want) {
		t.Errorf("file counts = %v, want %v", files, want)
	}
}

func TestChangedlines(t *testing.T) {
	e := prepared(t, threeVersions())
	ctx := context.Background()
	m, err := e.ExtractMetric(ctx, "changedlines")
	if err != nil {
		t.Fatalf("ExtractMetric() error = %v", err)
	}
	res, _ := m.Results(ctx)

	if got, want := keys(res), []string{"0.0.1..0.0.2", "0.0.2..0.0.10", "EMPTY..0.0.1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	first := res["EMPTY..0.0.1"].(*Change)
	if first.Insertions != 2 || first.Deletions != 0 || first.Lines != 2 {
		t.Errorf("EMPTY..0.0.1 = %+v", first)
	}
	added := res["0.0.1..0.0.2"].(*Change)
	if len(added.Files) != 1 || added.Files[0].Path != "pkg/util.py" || added.Insertions != 1 {
		t.Errorf("0.0.1..0.0.2 = %+v", added)
	}
	if added.Files[0].Author != history.AuthorEmail {
		t.Errorf("author = %q", added.Files[0].Author)
	}
	removed := res["0.0.2..0.0.10"].(*Change)
	if removed.Deletions != 1 || removed.Insertions != 0 {
		t.Errorf("0.0.2..0.0.10 = %+v", removed)
	}

	testutil.CompareGolden(t, "changedlines", "", res)
}

func TestSaveAll(t *testing.T) {
	e := prepared(t, threeVersions())
	ctx := context.Background()
	if err := e.ExtractAll(ctx, []string{"all"}); err != nil {
		t.Fatalf("ExtractAll() error = %v", err)
	}

	out := t.TempDir()
	written, err := e.SaveAll(ctx, out, SaveOptions{})
	if err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if len(written) != 3 {
		t.Errorf("written = %v", written)
	}
	for _, f := range []string{
		"pypi/pkg/compspec/index.json",
		"pypi/pkg/compspec/compspec-0.0.1-results.json",
		"pypi/pkg/totalcounts/totalcounts-results.json",
		"pypi/pkg/changedlines/changedlines-results.json",
	} {
		if _, err := os.Stat(filepath.Join(out, f)); err != nil {
			t.Errorf("missing %s", f)
		}
	}

	// Without force nothing is rewritten.
	written, err = e.SaveAll(ctx, out, SaveOptions{})
	if err != nil || len(written) != 0 {
		t.Errorf("second SaveAll() = %v, %v", written, err)
	}

	if _, err := e.SaveAll(ctx, out, SaveOptions{Format: "csv"}); !errors.Is(err, errors.ConfigInvalid) {
		t.Errorf("SaveAll(csv) error = %v, want CONFIG_INVALID", err)
	}
}

func TestSaveAllFiltersVersions(t *testing.T) {
	e := prepared(t, threeVersions())
	ctx := context.Background()
	if err := e.ExtractAll(ctx, []string{"changedlines"}); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	if _, err := e.SaveAll(ctx, out, SaveOptions{Versions: []string{"0.0.10"}}); err != nil {
		t.Fatal(err)
	}
	data, err := results.Read(filepath.Join(ResultsDir(out, "pypi", "pkg", "changedlines"), results.IndexFile), "changedlines")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 || data["0.0.2..0.0.10"] == nil {
		t.Errorf("saved keys = %v", data)
	}
}

func TestPrepareUnknownVersions(t *testing.T) {
	testutil.RequireGit(t)
	trees := threeVersions()
	e := NewExtractor(testConfig(t), staticManager(trees), slogutil.NewDiscardLogger()).WithMaterializer(fakeSources(t, trees))
	defer e.Cleanup()
	if err := e.Prepare(context.Background(), []string{"9.9"}); !errors.Is(err, errors.InputMissing) {
		t.Errorf("Prepare() error = %v, want INPUT_MISSING", err)
	}
}

func TestCleanupRemovesWorkDir(t *testing.T) {
	e := prepared(t, threeVersions())
	dir := e.WorkDir()
	if !strings.Contains(filepath.Base(dir), "caliper-pypi-pkg-") {
		t.Errorf("work dir = %s", dir)
	}
	e.Cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("work dir still exists: %v", err)
	}
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
