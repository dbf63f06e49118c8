// Package config loads the monitor's YAML configuration file and applies
// defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes either a Go duration string ("30s") or a plain integer
// nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// DataDir holds the SQLite database.
	DataDir string `yaml:"data_dir"`

	// BPFObject is the compiled event-source object file.
	BPFObject string `yaml:"bpf_object"`

	// MountPoint is the filesystem subtree covered by open authorization.
	MountPoint string `yaml:"mount_point"`

	// Listen is the control API bind address.
	Listen string `yaml:"listen"`

	// WatchPaths are directories covered by the filesystem census.
	WatchPaths []string `yaml:"watch_paths"`

	ProcessScanInterval    Duration `yaml:"process_scan_interval"`
	NetworkScanInterval    Duration `yaml:"network_scan_interval"`
	FilesystemScanInterval Duration `yaml:"filesystem_scan_interval"`

	// AudioPatterns and VideoPatterns override the built-in device path
	// classifiers when non-empty.
	AudioPatterns []string `yaml:"audio_patterns"`
	VideoPatterns []string `yaml:"video_patterns"`

	// SigmaRulesDir enables rule matching when it exists.
	SigmaRulesDir string `yaml:"sigma_rules_dir"`

	LogLevel string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		DataDir:                "/var/lib/avmonitor",
		BPFObject:              "bpf/monitor.o",
		MountPoint:             "/",
		Listen:                 "127.0.0.1:8090",
		ProcessScanInterval:    Duration(5 * time.Second),
		NetworkScanInterval:    Duration(10 * time.Second),
		FilesystemScanInterval: Duration(1 * time.Second),
		LogLevel:               "info",
	}
}

// Load reads path and merges it over the defaults. A missing file is not
// an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.ProcessScanInterval <= 0 {
		cfg.ProcessScanInterval = Duration(5 * time.Second)
	}
	if cfg.NetworkScanInterval <= 0 {
		cfg.NetworkScanInterval = Duration(10 * time.Second)
	}
	if cfg.FilesystemScanInterval <= 0 {
		cfg.FilesystemScanInterval = Duration(1 * time.Second)
	}
	return cfg, nil
}
