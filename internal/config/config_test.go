package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", cfg.Version, CurrentVersion)
	}
	if cfg.Workers < 1 {
		t.Errorf("Workers = %d, want >= 1", cfg.Workers)
	}
	if !cfg.Download.SkipFailedVersions {
		t.Error("SkipFailedVersions should default to true")
	}
	if cfg.Parser.Include != "**/*.py" {
		t.Errorf("Parser.Include = %q", cfg.Parser.Include)
	}
	if cfg.DownloadTimeout() != 300*time.Second {
		t.Errorf("DownloadTimeout() = %v", cfg.DownloadTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfig_MissingDefaultFile(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("Version = %d, want default", cfg.Version)
	}
	if cfg.Download.ChunkSize != DefaultConfig().Download.ChunkSize {
		t.Errorf("ChunkSize = %d, want default", cfg.Download.ChunkSize)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caliper.yaml")
	content := `version: 1
workers: 2
download:
  chunkSize: 1024
parser:
  exclude:
    - tests/
packages:
  - name: pypi:sif
    metrics: [compspec, totalcounts]
  - name: github:singularityhub/sregistry
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.Download.ChunkSize != 1024 {
		t.Errorf("ChunkSize = %d, want 1024", cfg.Download.ChunkSize)
	}
	// Unset keys keep their defaults.
	if cfg.Download.TimeoutSeconds != 300 {
		t.Errorf("TimeoutSeconds = %d, want default 300", cfg.Download.TimeoutSeconds)
	}
	if len(cfg.Parser.Exclude) != 1 || cfg.Parser.Exclude[0] != "tests/" {
		t.Errorf("Exclude = %v", cfg.Parser.Exclude)
	}
	if len(cfg.Packages) != 2 || cfg.Packages[0].Name != "pypi:sif" || len(cfg.Packages[0].Metrics) != 2 {
		t.Errorf("Packages = %+v", cfg.Packages)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caliper.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALIPER_WORKERS", "7")
	t.Setenv("GITHUB_TOKEN", "secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Workers != 7 {
		t.Errorf("Workers = %d, want 7 from env", cfg.Workers)
	}
	if cfg.GitHub.Token != "secret" {
		t.Errorf("GitHub.Token = %q, want token from GITHUB_TOKEN", cfg.GitHub.Token)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "caliper.yaml")
	cfg := DefaultConfig()
	cfg.Workers = 3
	cfg.GitHub.Token = "never-written"
	cfg.Packages = []PackageConfig{{Name: "pypi:sif", Metrics: []string{"compspec"}}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "never-written") {
		t.Error("token must not be persisted")
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Workers != 3 || len(loaded.Packages) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 9 }, "version"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"chunk size", func(c *Config) { c.Download.ChunkSize = 0 }, "download.chunkSize"},
		{"include", func(c *Config) { c.Parser.Include = "" }, "parser.include"},
		{"format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"package", func(c *Config) { c.Packages = []PackageConfig{{Name: "sif"}} }, "packages[0].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}
