package compat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"caliper/internal/errors"
	"caliper/internal/factstore"
	"caliper/internal/pyparse"
	"caliper/internal/slogutil"
	"caliper/internal/tracer"
)

func storeWith(t *testing.T, sources map[string]string) *factstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := factstore.OpenMemory(slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	for version, src := range sources {
		facts, err := pyparse.ParseSource(ctx, []byte(src), "pkg", version)
		if err != nil {
			t.Fatalf("ParseSource(%s) error = %v", version, err)
		}
		if err := s.WriteModule(ctx, facts); err != nil {
			t.Fatalf("WriteModule(%s) error = %v", version, err)
		}
	}
	return s
}

func call(path string, args ...string) tracer.Event {
	module := path
	function := "<module>"
	if i := lastDot(path); i >= 0 {
		module, function = path[:i], path[i+1:]
	}
	return tracer.Event{Event: "call", Module: module, Function: function, Path: path, Args: args}
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

func TestTooManyArgs(t *testing.T) {
	store := storeWith(t, map[string]string{"1.0": "def f(a):\n    pass\n"})

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no args", nil, 0},
		{"one arg", []string{"a"}, 0},
		{"two args", []string{"a", "b"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := NewLedger()
			c := NewChecker(store, ledger, slogutil.NewDiscardLogger())
			if err := c.InspectTrace(context.Background(), call("pkg.f", tt.args...)); err != nil {
				t.Fatalf("InspectTrace() error = %v", err)
			}
			facts := ledger.Facts("1.0", "pkg.f")
			if len(facts) != tt.want {
				t.Fatalf("facts = %+v, want %d", facts, tt.want)
			}
			if tt.want == 1 {
				if facts[0].Tag != TagTooManyArgs || facts[0].Reason != "Found (a,b) in trace but function allows (a)" {
					t.Errorf("fact = %s: %s", facts[0].Tag, facts[0].Reason)
				}
				if facts[0].Module == nil || facts[0].Module.Tag != "1.0" {
					t.Errorf("fact module = %+v", facts[0].Module)
				}
			}
			if got := ledger.Versions(); !reflect.DeepEqual(got, []string{"1.0"}) {
				t.Errorf("Versions() = %v", got)
			}
		})
	}
}

func TestZeroParams(t *testing.T) {
	store := storeWith(t, map[string]string{
		"1.0": "def f():\n    pass\n",
		"2.0": "def f(x, y):\n    pass\n",
	})
	ledger := NewLedger()
	c := NewChecker(store, ledger, nil)

	if err := c.InspectTrace(context.Background(), call("pkg.f", "x")); err != nil {
		t.Fatalf("InspectTrace() error = %v", err)
	}
	want := []Row{{Version: "1.0", Path: "pkg.f", Tag: TagTooManyArgs, Reason: "Found (x) in trace but function allows zero"}}
	if got := ledger.Rows(); !reflect.DeepEqual(got, want) {
		t.Errorf("Rows() = %+v, want %+v", got, want)
	}
	if got := ledger.Versions(); !reflect.DeepEqual(got, []string{"1.0", "2.0"}) {
		t.Errorf("Versions() = %v", got)
	}
}

func TestMissingModuleDeduplicated(t *testing.T) {
	store := storeWith(t, map[string]string{"1.0": "def f(a):\n    pass\n"})
	ledger := NewLedger()
	c := NewChecker(store, ledger, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.InspectTrace(ctx, call("pkg.gone.h", "a")); err != nil {
			t.Fatalf("InspectTrace() error = %v", err)
		}
	}
	facts := ledger.Facts(Global, "pkg.gone")
	if len(facts) != 1 {
		t.Fatalf("global facts = %+v, want exactly one", facts)
	}
	if facts[0].Tag != TagMissingModule || facts[0].Reason != MissingReason {
		t.Errorf("fact = %+v", facts[0])
	}
}

func TestMissingModuleDistinctPaths(t *testing.T) {
	store := storeWith(t, map[string]string{"1.0": "def f(a):\n    pass\n"})
	ledger := NewLedger()
	c := NewChecker(store, ledger, nil)
	ctx := context.Background()

	for _, path := range []string{"pkg.gone.h", "pkg.gone.k", "pkg.gone.h"} {
		if err := c.InspectTrace(ctx, call(path)); err != nil {
			t.Fatalf("InspectTrace(%s) error = %v", path, err)
		}
	}
	facts := ledger.Facts(Global, "pkg.gone")
	if len(facts) != 2 {
		t.Fatalf("global facts = %+v, want two", facts)
	}
	if facts[0].Trace.Path != "pkg.gone.h" || facts[1].Trace.Path != "pkg.gone.k" {
		t.Errorf("traced paths = %s, %s", facts[0].Trace.Path, facts[1].Trace.Path)
	}
}

func TestIgnoredEvents(t *testing.T) {
	store := storeWith(t, map[string]string{"1.0": "def f(a):\n    pass\n"})
	ledger := NewLedger()
	c := NewChecker(store, ledger, nil)

	events := []tracer.Event{
		{Event: "return", Module: "pkg", Function: "f", Path: "pkg.f", Args: []string{"a", "b"}},
		call("other.f", "a", "b"),
		{Event: "call", Module: "pkg.sub", Function: "<module>", Path: "pkg.sub.<module>"},
	}
	for _, ev := range events {
		if err := c.InspectTrace(context.Background(), ev); err != nil {
			t.Fatalf("InspectTrace(%+v) error = %v", ev, err)
		}
	}
	if n := ledger.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0: %+v", n, ledger.Rows())
	}
}

type failingStore struct{}

func (failingStore) HasModule(context.Context, string) (bool, error) {
	return false, errors.Newf(errors.StoreFailed, "closed")
}

func (failingStore) GetModule(context.Context, string) ([]factstore.Record, error) {
	return nil, nil
}

func TestStoreErrorsPropagate(t *testing.T) {
	c := NewChecker(failingStore{}, NewLedger(), nil)
	if err := c.InspectTrace(context.Background(), call("pkg.f")); !errors.Is(err, errors.StoreFailed) {
		t.Fatalf("InspectTrace() error = %v, want STORE_FAILED", err)
	}
}

func TestLedgerSave(t *testing.T) {
	store := storeWith(t, map[string]string{"1.0": "def f(a):\n    pass\n"})
	ledger := NewLedger()
	c := NewChecker(store, ledger, nil)
	ctx := context.Background()

	if err := tracer.Trace(ctx, c, []tracer.Command{func(ctx context.Context) error {
		if err := tracer.Emit(ctx, call("pkg.f", "a", "b")); err != nil {
			return err
		}
		return tracer.Emit(ctx, call("pkg.missing.g"))
	}}); err != nil {
		t.Fatalf("Trace() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "ledger.json")
	if err := ledger.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]map[string][]map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("ledger is not valid JSON: %v", err)
	}
	missing := doc[Global]["pkg.missing"]
	if len(missing) != 1 || missing[0]["tag"] != "missing-module" || missing[0]["path"] != "pkg.missing.g" {
		t.Errorf("global entry = %v", missing)
	}
	incompatible := doc["1.0"]["pkg.f"]
	if len(incompatible) != 1 {
		t.Fatalf("1.0 entry = %v", incompatible)
	}
	for _, key := range []string{"trace", "module", "tag", "reason"} {
		if _, ok := incompatible[0][key]; !ok {
			t.Errorf("incompatible fact missing %q: %v", key, incompatible[0])
		}
	}
	module := incompatible[0]["module"].(map[string]interface{})
	if module["function"] != "f" || module["version"] != "1.0" {
		t.Errorf("module record = %v", module)
	}
}
