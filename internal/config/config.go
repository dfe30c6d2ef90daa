package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version understood by this build.
const CurrentVersion = 1

// DefaultFileName is looked up in the working directory when no --config is given.
const DefaultFileName = "caliper.yaml"

// Export formats accepted by Output.Format.
var ExportFormats = []string{"json", "json-single", "zip"}

// Config represents the complete Caliper configuration
type Config struct {
	Version     int    `json:"version" mapstructure:"version" yaml:"version"`
	WorkDir     string `json:"workDir" mapstructure:"workDir" yaml:"workDir"`
	KeepWorkDir bool   `json:"keepWorkDir" mapstructure:"keepWorkDir" yaml:"keepWorkDir"`
	Database    string `json:"database" mapstructure:"database" yaml:"database"`
	Workers     int    `json:"workers" mapstructure:"workers" yaml:"workers"`

	Logging   LoggingConfig   `json:"logging" mapstructure:"logging" yaml:"logging"`
	Download  DownloadConfig  `json:"download" mapstructure:"download" yaml:"download"`
	Parser    ParserConfig    `json:"parser" mapstructure:"parser" yaml:"parser"`
	Output    OutputConfig    `json:"output" mapstructure:"output" yaml:"output"`
	GitHub    GitHubConfig    `json:"github" mapstructure:"github" yaml:"github"`
	Dataverse DataverseConfig `json:"dataverse" mapstructure:"dataverse" yaml:"dataverse"`
	Packages  []PackageConfig `json:"packages" mapstructure:"packages" yaml:"packages"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level" yaml:"level"`
	// File, when set, also receives every log line.
	File       string `json:"file,omitempty" mapstructure:"file" yaml:"file,omitempty"`
	MaxSize    string `json:"maxSize,omitempty" mapstructure:"maxSize" yaml:"maxSize,omitempty"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups" yaml:"maxBackups"`
}

// DownloadConfig controls archive retrieval
type DownloadConfig struct {
	TimeoutSeconds     int  `json:"timeoutSeconds" mapstructure:"timeoutSeconds" yaml:"timeoutSeconds"`
	ChunkSize          int  `json:"chunkSize" mapstructure:"chunkSize" yaml:"chunkSize"`
	SkipFailedVersions bool `json:"skipFailedVersions" mapstructure:"skipFailedVersions" yaml:"skipFailedVersions"`
}

// ParserConfig controls which files the fact parser visits
type ParserConfig struct {
	Include     string   `json:"include" mapstructure:"include" yaml:"include"`
	Exclude     []string `json:"exclude" mapstructure:"exclude" yaml:"exclude"`
	ModulesOnly bool     `json:"modulesOnly" mapstructure:"modulesOnly" yaml:"modulesOnly"`
}

// OutputConfig controls where results are written
type OutputConfig struct {
	Dir    string `json:"dir" mapstructure:"dir" yaml:"dir"`
	Format string `json:"format" mapstructure:"format" yaml:"format"`
}

// GitHubConfig configures the GitHub releases index
type GitHubConfig struct {
	Token   string `json:"-" mapstructure:"token" yaml:"-"`
	BaseURL string `json:"baseURL" mapstructure:"baseURL" yaml:"baseURL"`
}

// DataverseConfig configures the Dataverse index
type DataverseConfig struct {
	BaseURL string `json:"baseURL" mapstructure:"baseURL" yaml:"baseURL"`
}

// PackageConfig names one package and the metrics to keep current for it
type PackageConfig struct {
	Name    string   `json:"name" mapstructure:"name" yaml:"name"`
	Metrics []string `json:"metrics,omitempty" mapstructure:"metrics" yaml:"metrics,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Workers: runtime.NumCPU(),
		Logging: LoggingConfig{
			Level:      "warn",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
		Download: DownloadConfig{
			TimeoutSeconds:     300,
			ChunkSize:          32 * 1024,
			SkipFailedVersions: true,
		},
		Parser: ParserConfig{
			Include:     "**/*.py",
			Exclude:     []string{"__pycache__/", ".git/", "*.pyc"},
			ModulesOnly: true,
		},
		Output: OutputConfig{
			Dir:    ".",
			Format: "",
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		Dataverse: DataverseConfig{
			BaseURL: "https://dataverse.harvard.edu",
		},
	}
}

// DownloadTimeout returns the per-request download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// LoadConfig loads configuration from path. An empty path looks for caliper.yaml
// in the working directory; a missing default file yields DefaultConfig.
// Environment variables prefixed with CALIPER_ override file values
// (e.g. CALIPER_DOWNLOAD_CHUNKSIZE); GITHUB_TOKEN is honored as github.token.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("CALIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("github.token", "CALIPER_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("dataverse.baseURL", "CALIPER_DATAVERSE_BASEURL")

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}
	v.SetConfigFile(path)
	v.SetConfigType(configType(path))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		switch {
		case missing && explicit:
			return nil, &ConfigError{Field: "file", Message: fmt.Sprintf("%s does not exist", path)}
		case !missing:
			return nil, &ConfigError{Field: "file", Message: err.Error()}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("workDir", d.WorkDir)
	v.SetDefault("keepWorkDir", d.KeepWorkDir)
	v.SetDefault("database", d.Database)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
	v.SetDefault("download.timeoutSeconds", d.Download.TimeoutSeconds)
	v.SetDefault("download.chunkSize", d.Download.ChunkSize)
	v.SetDefault("download.skipFailedVersions", d.Download.SkipFailedVersions)
	v.SetDefault("parser.include", d.Parser.Include)
	v.SetDefault("parser.exclude", d.Parser.Exclude)
	v.SetDefault("parser.modulesOnly", d.Parser.ModulesOnly)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("github.baseURL", d.GitHub.BaseURL)
	v.SetDefault("dataverse.baseURL", d.Dataverse.BaseURL)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Save writes the configuration as YAML to path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	if c.Workers < 1 {
		return &ConfigError{Field: "workers", Message: "must be at least 1"}
	}
	if c.Download.ChunkSize <= 0 {
		return &ConfigError{Field: "download.chunkSize", Message: "must be positive"}
	}
	if c.Download.TimeoutSeconds < 0 {
		return &ConfigError{Field: "download.timeoutSeconds", Message: "must not be negative"}
	}
	if c.Logging.MaxBackups < 0 {
		return &ConfigError{Field: "logging.maxBackups", Message: "must not be negative"}
	}
	if c.Parser.Include == "" {
		return &ConfigError{Field: "parser.include", Message: "must not be empty"}
	}
	if c.Output.Format != "" && !ValidFormat(c.Output.Format) {
		return &ConfigError{
			Field:   "output.format",
			Message: fmt.Sprintf("%q is not one of %s", c.Output.Format, strings.Join(ExportFormats, ", ")),
		}
	}
	for i, p := range c.Packages {
		if !strings.Contains(p.Name, ":") {
			return &ConfigError{Field: fmt.Sprintf("packages[%d].name", i), Message: "expected <manager>:<package>"}
		}
	}
	return nil
}

// ValidFormat reports whether format is a known export format.
func ValidFormat(format string) bool {
	for _, f := range ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
