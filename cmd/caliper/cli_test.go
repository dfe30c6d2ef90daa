package main

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"caliper/internal/config"
	"caliper/internal/errors"
	"caliper/internal/metrics"
)

func TestUpdatePackages(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Packages = []config.PackageConfig{
		{Name: "pypi:sif", Metrics: []string{"compspec"}},
		{Name: "conda:conda-forge/zlib"},
	}

	tests := []struct {
		name    string
		args    []string
		metrics []string
		want    []config.PackageConfig
	}{
		{
			name: "from config",
			want: cfg.Packages,
		},
		{
			name: "arguments win",
			args: []string{"pypi:requests"},
			want: []config.PackageConfig{{Name: "pypi:requests"}},
		},
		{
			name:    "metric flag applies to every package",
			metrics: []string{"totalcounts"},
			want: []config.PackageConfig{
				{Name: "pypi:sif", Metrics: []string{"totalcounts"}},
				{Name: "conda:conda-forge/zlib", Metrics: []string{"totalcounts"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := updatePackages(cfg, tt.args, tt.metrics)
			if err != nil {
				t.Fatalf("updatePackages() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("updatePackages() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if cfg.Packages[0].Metrics[0] != "compspec" {
		t.Error("updatePackages modified the config")
	}
	if _, err := updatePackages(config.DefaultConfig(), nil, nil); !errors.Is(err, errors.InputMissing) {
		t.Errorf("no packages error = %v, want INPUT_MISSING", err)
	}
}

func TestIssueSummary(t *testing.T) {
	got := issueSummary(map[string]int{"1.1": 2, "1.0": 0, "0.9": 1})
	if want := "0.9=1, 1.1=2"; got != want {
		t.Errorf("issueSummary() = %q, want %q", got, want)
	}
	if got := issueSummary(nil); got != "" {
		t.Errorf("issueSummary(nil) = %q", got)
	}
}

func TestPrintStatuses(t *testing.T) {
	var buf bytes.Buffer
	err := printStatuses(&buf, []metrics.Status{
		{Package: "pypi:sif", Metric: "compspec", Indexed: true, Current: []string{"0.0.1"}, Missing: []string{"0.0.2", "0.0.3"}},
		{Package: "pypi:sif", Metric: "totalcounts", Missing: []string{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"PACKAGE", "0.0.2,0.0.3", "not indexed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMetricsCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"metrics", "lines"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "changedlines") || strings.Contains(out, "totalcounts") {
		t.Errorf("metrics output:\n%s", out)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "zip", "json"); got != "zip" {
		t.Errorf("firstNonEmpty() = %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty() = %q", got)
	}
}
