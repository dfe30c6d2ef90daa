package pyparse

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"caliper/internal/errors"
)

const legacySource = `# -*- coding: utf-8 -*-
import os, sys as system
from . import sibling
from ..pkg.mod import (alpha,
    beta as b,)
from x import *

print "python 2"

def top(a, b=2, *args, **kwargs):
    def inner(z):
        pass
    import json
    return a

class Widget(object):
    """Doc with def fake(): inside"""
    size = 0.5

    def method(self, value: int = 0x10, label="a, b"):
        pass

    class Inner:
        def deep(self): pass

if True:
    def conditional(x=-1.5e3): pass
async def fetch(url, timeout=None): ...
x = 1; import re
`

func TestScanLenient(t *testing.T) {
	got := scanLenient([]byte(legacySource), "pkg.mod")

	wantExports := []Export{
		{Module: "pkg.mod", Path: "pkg.mod.top", Name: "top", Kind: KindFunction, Params: []Param{
			{Name: "a", Position: 0},
			{Name: "b", Position: 1, Default: int64(2)},
			{Name: "args", Position: 2},
		}},
		{Module: "pkg.mod", Path: "pkg.mod.Widget", Name: "Widget", Kind: KindClass},
		{Module: "pkg.mod.Widget", Path: "pkg.mod.Widget.method", Name: "method", Kind: KindFunction, Params: []Param{
			{Name: "self", Position: 0},
			{Name: "value", Type: "int", Position: 1, Default: int64(16)},
			{Name: "label", Position: 2, Default: `"a, b"`},
		}},
		{Module: "pkg.mod.Widget", Path: "pkg.mod.Widget.Inner", Name: "Inner", Kind: KindClass},
		{Module: "pkg.mod.Widget.Inner", Path: "pkg.mod.Widget.Inner.deep", Name: "deep", Kind: KindFunction, Params: []Param{
			{Name: "self", Position: 0},
		}},
		{Module: "pkg.mod", Path: "pkg.mod.conditional", Name: "conditional", Kind: KindFunction, Params: []Param{
			{Name: "x", Position: 0, Default: float64(-1500)},
		}},
		{Module: "pkg.mod", Path: "pkg.mod.fetch", Name: "fetch", Kind: KindFunction, Params: []Param{
			{Name: "url", Position: 0},
			{Name: "timeout", Position: 1, Default: "None"},
		}},
	}
	if !reflect.DeepEqual(got.exports, wantExports) {
		t.Errorf("exports =\n%+v\nwant\n%+v", got.exports, wantExports)
	}

	wantImports := []Import{
		{Path: "pkg.mod", Name: "os"},
		{Path: "pkg.mod", Name: "sys", As: "system"},
		{Path: "pkg.mod", From: ".", Name: "sibling"},
		{Path: "pkg.mod", From: "..pkg.mod", Name: "alpha"},
		{Path: "pkg.mod", From: "..pkg.mod", Name: "beta", As: "b"},
		{Path: "pkg.mod", From: "x", Name: "*"},
		{Path: "pkg.mod", Name: "re"},
	}
	if !reflect.DeepEqual(got.imports, wantImports) {
		t.Errorf("imports =\n%+v\nwant\n%+v", got.imports, wantImports)
	}
}

func TestParseSourceFallsBackOnSyntaxErrors(t *testing.T) {
	facts, err := ParseSource(context.Background(), []byte(legacySource), "pkg.mod", "1.0")
	if err != nil {
		t.Fatalf("ParseSource() error = %v", err)
	}
	if facts.Fallback != TreeSitterAvailable() {
		t.Errorf("Fallback = %v, want %v", facts.Fallback, TreeSitterAvailable())
	}
	if facts.Root != "pkg" || facts.Version != "1.0" {
		t.Errorf("Root, Version = %q, %q", facts.Root, facts.Version)
	}
	if len(facts.Exports) != 7 {
		t.Errorf("len(Exports) = %d, want 7", len(facts.Exports))
	}
}

func TestParseSourceEmptyFile(t *testing.T) {
	facts, err := ParseSource(context.Background(), nil, "pkg", "1.0")
	if err != nil {
		t.Fatalf("ParseSource() error = %v", err)
	}
	if facts.Exports == nil || facts.Imports == nil {
		t.Errorf("empty file should yield empty, non-nil slices: %+v", facts)
	}
	if facts.Fallback {
		t.Error("empty file should not need the fallback parser")
	}
}

func TestParseSourceRejectsBinary(t *testing.T) {
	_, err := ParseSource(context.Background(), []byte("def (\xff\xfe\x00\x01"), "pkg.bin", "1.0")
	if !errors.Is(err, errors.ParseFailed) {
		t.Fatalf("ParseSource() error = %v, want PARSE_FAILED", err)
	}
}

func TestParseModuleMissingFile(t *testing.T) {
	_, err := ParseModule(context.Background(), filepath.Join(t.TempDir(), "nope.py"), "nope", "1.0")
	if !errors.Is(err, errors.ParseFailed) {
		t.Fatalf("ParseModule() error = %v, want PARSE_FAILED", err)
	}
}

func TestParseDefault(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"", nil},
		{"0", int64(0)},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"1_000", int64(1000)},
		{"0x1F", int64(31)},
		{"0o17", int64(15)},
		{"10L", int64(10)},
		{"3.25", 3.25},
		{"-.5", -0.5},
		{"1e3", 1000.0},
		{"None", "None"},
		{"inf", "inf"},
		{"'text'", "'text'"},
		{"[1,  2]", "[1, 2]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseDefault(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseDefault(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestModulePath(t *testing.T) {
	root := filepath.FromSlash("/r")
	tests := []struct {
		file      string
		srcLayout bool
		want      string
	}{
		{"pkg/__init__.py", false, "pkg"},
		{"pkg/sub/mod.py", false, "pkg.sub.mod"},
		{"setup.py", false, "setup"},
		{"__init__.py", false, ""},
		{"purelib/pkg/mod.py", false, "pkg.mod"},
		{"platlib/pkg/__init__.py", false, "pkg"},
		{"src/pkg/mod.py", true, "pkg.mod"},
		{"src/pkg/mod.py", false, "src.pkg.mod"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got := ModulePath(root, filepath.Join(root, filepath.FromSlash(tt.file)), tt.srcLayout)
			if got != tt.want {
				t.Errorf("ModulePath(%q, %v) = %q, want %q", tt.file, tt.srcLayout, got, tt.want)
			}
		})
	}
}

func TestDetectSrcLayout(t *testing.T) {
	tests := []struct {
		name      string
		pyproject string
		want      bool
	}{
		{"missing", "", false},
		{"malformed", "[tool\n", false},
		{"flat", "[project]\nname = \"x\"\n", false},
		{"setuptools package-dir", "[tool.setuptools.package-dir]\n\"\" = \"src\"\n", true},
		{"setuptools find", "[tool.setuptools.packages.find]\nwhere = [\"src\"]\n", true},
		{"poetry", "[tool.poetry]\npackages = [{ include = \"x\", from = \"src\" }]\n", true},
		{"hatch", "[tool.hatch.build.targets.wheel]\npackages = [\"src/x\"]\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.pyproject != "" {
				if err := os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(tt.pyproject), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if got := DetectSrcLayout(dir); got != tt.want {
				t.Errorf("DetectSrcLayout() = %v, want %v", got, tt.want)
			}
		})
	}
}
