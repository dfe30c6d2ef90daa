// Package testutil provides fixture builders and golden-file helpers.
package testutil

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// updateGolden controls whether golden files should be updated.
// Use: go test ./... -run TestGolden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// volatileFields are dropped before comparison; they change every run.
var volatileFields = map[string]bool{
	"commit":    true,
	"timestamp": true,
	"author":    true,
	"parent":    true,
}

// MarshalNormalized renders got as indented JSON with volatile fields
// removed and root replaced by <root>.
func MarshalNormalized(t *testing.T, root string, got any) []byte {
	t.Helper()

	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("Failed to marshal data for normalization: %v", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("Failed to unmarshal data for normalization: %v", err)
	}
	generic = normalize(generic, root)

	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal normalized data: %v", err)
	}
	return append(out, '\n')
}

func normalize(v any, root string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if volatileFields[k] {
				continue
			}
			out[k] = normalize(item, root)
		}
		return out
	case []any:
		for i := range val {
			val[i] = normalize(val[i], root)
		}
		return val
	case string:
		if root != "" {
			val = strings.ReplaceAll(val, root, "<root>")
		}
		return strings.ReplaceAll(val, "\\", "/")
	}
	return v
}

// CompareGolden compares got against testdata/<name>.golden.json in the
// calling package, failing with a diff on mismatch. With -update the golden
// file is rewritten instead.
func CompareGolden(t *testing.T, name, root string, got any) {
	t.Helper()

	normalized := MarshalNormalized(t, root, got)
	goldenPath := filepath.Join("testdata", name+".golden.json")

	if *updateGolden {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			t.Fatalf("Failed to create testdata directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, normalized, 0o644); err != nil {
			t.Fatalf("Failed to write golden file: %v", err)
		}
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create:\n  go test ./... -run %s -update",
				goldenPath, string(normalized), t.Name())
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	if !bytes.Equal(normalized, expected) {
		t.Fatalf("Golden mismatch for %s:\n%s\n\nRun with -update to refresh:\n  go test ./... -run %s -update",
			name, lineDiff(string(expected), string(normalized), goldenPath), t.Name())
	}
}

// lineDiff lists the lines that differ between two documents.
func lineDiff(expected, got, path string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- %s (expected)\n", path)
	fmt.Fprintf(&buf, "+++ %s (got)\n", path)

	expectedLines := strings.Split(expected, "\n")
	gotLines := strings.Split(got, "\n")
	n := len(expectedLines)
	if len(gotLines) > n {
		n = len(gotLines)
	}
	for i := 0; i < n; i++ {
		var e, g string
		if i < len(expectedLines) {
			e = expectedLines[i]
		}
		if i < len(gotLines) {
			g = gotLines[i]
		}
		if e == g {
			continue
		}
		fmt.Fprintf(&buf, "@@ line %d @@\n", i+1)
		if i < len(expectedLines) {
			buf.WriteString("-" + e + "\n")
		}
		if i < len(gotLines) {
			buf.WriteString("+" + g + "\n")
		}
	}
	return buf.String()
}
