package costcollector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/inconshreveable/log15"
	"gopkg.in/yaml.v3"
)

// DefaultRegion is used when neither the config file nor the
// environment names a region.
const DefaultRegion = "us-east-1"

// Config holds everything needed to build an Expedition. It is resolved
// once at startup so that no collector reads the environment on its own.
type Config struct {
	// Executable of the cloud CLI.
	Binary string `yaml:"binary"`

	// Region for regional commands. AWS_REGION, then AWS_DEFAULT_REGION
	// override the file.
	Region string `yaml:"region"`

	// Named profile exported to the tool as AWS_PROFILE.
	Profile string `yaml:"profile"`

	// Extra variables for the tool's environment.
	Env map[string]string `yaml:"env"`

	DataDir    string `yaml:"data_dir"`
	ReportFile string `yaml:"report_file"`

	SnapshotDays int      `yaml:"snapshot_days"`
	CostDays     int      `yaml:"cost_days"`
	ForecastDays int      `yaml:"forecast_days"`
	RequiredTags []string `yaml:"required_tags"`

	// Instance type sampled by the spot-advisor collector.
	SpotInstanceType string `yaml:"spot_instance_type"`

	// Page limit per paginated query, 0 for none.
	MaxPages int `yaml:"max_pages"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Binary:       "aws",
		DataDir:      filepath.Join("reports", "data"),
		ReportFile:   filepath.Join("reports", "analysis.txt"),
		SnapshotDays: 90,
		CostDays:     90,
		ForecastDays: 30,
		RequiredTags: append([]string(nil), DefaultRequiredTags...),

		SpotInstanceType: "m6g.large",
	}
}

// LoadConfig reads a YAML config over the defaults, applies environment
// overrides and fills the region. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Region = v
	} else if v := os.Getenv("AWS_DEFAULT_REGION"); v != "" {
		c.Region = v
	}
}

// Validate checks the values the collectors depend on.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return errors.New("binary must not be empty")
	}
	if c.SnapshotDays <= 0 || c.CostDays <= 0 || c.ForecastDays <= 0 {
		return errors.New("snapshot_days, cost_days and forecast_days must be positive")
	}
	if c.MaxPages < 0 {
		return errors.New("max_pages must not be negative")
	}
	return nil
}

// KnownRegion reports whether Region belongs to a partition the AWS SDK
// knows about. Unknown regions are allowed but worth a warning since a
// typo silently produces empty reports.
func (c *Config) KnownRegion() bool {
	_, ok := endpoints.PartitionForRegion(endpoints.DefaultPartitions(), c.Region)
	return ok
}

// ToolEnv returns the environment overrides for the tool, including
// AWS_PROFILE when a profile is set.
func (c *Config) ToolEnv() map[string]string {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	if c.Profile != "" {
		env["AWS_PROFILE"] = c.Profile
	}
	return env
}

// ExpeditionInput converts the config into constructor input for New.
func (c *Config) ExpeditionInput(logger *log15.Logger) *ExpeditionInput {
	return &ExpeditionInput{
		Binary:           &c.Binary,
		Region:           &c.Region,
		Env:              c.ToolEnv(),
		MaxPages:         &c.MaxPages,
		SnapshotDays:     &c.SnapshotDays,
		CostDays:         &c.CostDays,
		ForecastDays:     &c.ForecastDays,
		RequiredTags:     c.RequiredTags,
		SpotInstanceType: &c.SpotInstanceType,
		DataDir:          &c.DataDir,
		OutfileReport:    &c.ReportFile,
		Logger:           logger,
	}
}
