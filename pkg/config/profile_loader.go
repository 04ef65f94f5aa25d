package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is an optional YAML configuration profile. Fields left empty in
// the profile keep their environment-derived values.
type Profile struct {
	Name          string   `yaml:"name" json:"name"`
	Port          string   `yaml:"port,omitempty" json:"port,omitempty"`
	DatabasePath  string   `yaml:"database_path,omitempty" json:"database_path,omitempty"`
	ArtifactDir   string   `yaml:"artifact_dir,omitempty" json:"artifact_dir,omitempty"`
	FixtureDir    string   `yaml:"fixture_dir,omitempty" json:"fixture_dir,omitempty"`
	PollInterval  string   `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	CanaryStrings []string `yaml:"canary_strings,omitempty" json:"canary_strings,omitempty"`
	FixtureHosts  []string `yaml:"fixture_hosts,omitempty" json:"fixture_hosts,omitempty"`
}

// LoadProfile reads a YAML profile and overlays it on cfg.
func LoadProfile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse profile %q: %w", path, err)
	}

	if p.Port != "" {
		cfg.Port = p.Port
	}
	if p.DatabasePath != "" {
		cfg.DatabasePath = p.DatabasePath
	}
	if p.ArtifactDir != "" {
		cfg.ArtifactDir = p.ArtifactDir
	}
	if p.FixtureDir != "" {
		cfg.FixtureDir = p.FixtureDir
	}
	if p.PollInterval != "" {
		d, err := time.ParseDuration(p.PollInterval)
		if err != nil {
			return fmt.Errorf("profile %q: bad poll_interval: %w", path, err)
		}
		cfg.PollInterval = d
	}
	if len(p.CanaryStrings) > 0 {
		cfg.CanaryStrings = p.CanaryStrings
	}
	if len(p.FixtureHosts) > 0 {
		cfg.FixtureHosts = p.FixtureHosts
	}
	return nil
}
