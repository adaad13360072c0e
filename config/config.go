package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds every knob the pipeline needs. Loaded from a JSON file,
// then overridden by MIMIC2CLIF_* environment variables so containerized
// runs can tweak paths without editing the file.
type Config struct {
	// MimicDataDir is the directory containing mimic-iv-<version>/<module>/<table> files.
	MimicDataDir string `json:"mimic_data_dir"`
	MimicVersion string `json:"mimic_version"`

	// CLIFDataDir is where clif_<table>.parquet outputs land. When empty,
	// OutputDir derives "rclif-<clif_version>" next to the MIMIC data dir.
	CLIFDataDir string `json:"clif_data_dir"`
	CLIFVersion string `json:"clif_version"`

	// MappingsDir holds the "mimic-to-clif-mappings - <name>.csv" files.
	MappingsDir string `json:"mappings_dir"`

	// MCIDEBaseURL is the base URL for the consortium's category CSVs.
	// MCIDECacheDir keeps a local copy so offline runs still work.
	MCIDEBaseURL  string `json:"mcide_base_url"`
	MCIDECacheDir string `json:"mcide_cache_dir"`

	// SiteTimezone is the wall-clock zone source timestamps are charted in;
	// all output *_dttm columns are converted from it to UTC.
	SiteTimezone string `json:"site_timezone"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// WriteParquetCache converts csv.gz source tables to parquet on first
	// read so subsequent runs skip the CSV parse.
	WriteParquetCache bool `json:"write_parquet_cache"`
}

const (
	defaultMimicVersion = "3.1"
	defaultCLIFVersion  = "2.0"
	defaultMCIDEBaseURL = "https://raw.githubusercontent.com/clif-consortium/CLIF/main/mCIDE"
	defaultTimezone     = "US/Eastern"
)

// Load reads the JSON config at path and applies environment overrides.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.ApplyEnv()
	return cfg, nil
}

// Default returns a config with all defaults filled in, for tests and
// tools that do not carry a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MimicVersion == "" {
		c.MimicVersion = defaultMimicVersion
	}
	if c.CLIFVersion == "" {
		c.CLIFVersion = defaultCLIFVersion
	}
	if c.MCIDEBaseURL == "" {
		c.MCIDEBaseURL = defaultMCIDEBaseURL
	}
	if c.SiteTimezone == "" {
		c.SiteTimezone = defaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

// ApplyEnv overrides fields from MIMIC2CLIF_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MIMIC2CLIF_MIMIC_DATA_DIR"); v != "" {
		c.MimicDataDir = v
	}
	if v := os.Getenv("MIMIC2CLIF_MIMIC_VERSION"); v != "" {
		c.MimicVersion = v
	}
	if v := os.Getenv("MIMIC2CLIF_CLIF_DATA_DIR"); v != "" {
		c.CLIFDataDir = v
	}
	if v := os.Getenv("MIMIC2CLIF_MAPPINGS_DIR"); v != "" {
		c.MappingsDir = v
	}
	if v := os.Getenv("MIMIC2CLIF_MCIDE_BASE_URL"); v != "" {
		c.MCIDEBaseURL = v
	}
	if v := os.Getenv("MIMIC2CLIF_SITE_TIMEZONE"); v != "" {
		c.SiteTimezone = v
	}
	if v := os.Getenv("MIMIC2CLIF_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MIMIC2CLIF_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

// MimicDir returns the versioned root of the raw MIMIC-IV tables.
func (c *Config) MimicDir() string {
	return filepath.Join(c.MimicDataDir, "mimic-iv-"+c.MimicVersion)
}

// OutputDir returns the directory CLIF tables are written to.
func (c *Config) OutputDir() string {
	if c.CLIFDataDir != "" {
		return c.CLIFDataDir
	}
	return filepath.Join(c.MimicDataDir, "rclif-"+c.CLIFVersion)
}

// Location resolves SiteTimezone. Source timestamps carry no zone of
// their own, so every builder reinterprets them in this location before
// converting to UTC.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.SiteTimezone)
	if err != nil {
		return nil, fmt.Errorf("load site timezone %q: %w", c.SiteTimezone, err)
	}
	return loc, nil
}
