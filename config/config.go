// Package config loads the YAML configuration values spec §6
// ("Configuration (values, not flags)") describes, grounded on
// heyvito-eswim's Options/normalize() pattern and the teacher's own
// Connect() defaulting block in what was client/association.go.
package config

import (
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dicomkit/assoc"
)

// Config is the top-level YAML document shape for cmd/dicomassoc-demo and
// any other process embedding this module that prefers file-based
// configuration over constructing assoc.Params/Timeouts by hand.
type Config struct {
	CallingAETitle string `yaml:"calling_ae_title"`
	CalledAETitle  string `yaml:"called_ae_title"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`

	AsyncOpsInvoked   uint16 `yaml:"async_ops_invoked"`
	AsyncOpsPerformed uint16 `yaml:"async_ops_performed"`

	Timeouts struct {
		AssociationRequest time.Duration `yaml:"association_request"`
		AssociationRelease time.Duration `yaml:"association_release"`
		AssociationLinger  time.Duration `yaml:"association_linger"`
	} `yaml:"timeouts"`

	LogLevel string `yaml:"log_level"`
}

// Load reads and parses path, then normalizes it (spec §6 defaults).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	return &cfg, nil
}

// normalize fills in defaults for zero-valued fields: host, port, calling
// AE title, the three timeouts (spec §6), the async-operation counts and
// the log level. CalledAETitle and TLS are left as given. This mirrors the
// teacher's Connect() defaulting block, where MaxPDULength, timeouts, and
// AE titles all fell back to constants when the caller left them unset.
func (c *Config) normalize() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 104
	}
	if c.CallingAETitle == "" {
		c.CallingAETitle = "DICOMASSOC"
	}

	defaults := assoc.DefaultTimeouts()
	if c.Timeouts.AssociationRequest == 0 {
		c.Timeouts.AssociationRequest = defaults.AssociationRequest
	}
	if c.Timeouts.AssociationRelease == 0 {
		c.Timeouts.AssociationRelease = defaults.AssociationRelease
	}
	if c.Timeouts.AssociationLinger == 0 {
		c.Timeouts.AssociationLinger = defaults.AssociationLinger
	}

	if c.AsyncOpsInvoked == 0 {
		c.AsyncOpsInvoked = 1
	}
	if c.AsyncOpsPerformed == 0 {
		c.AsyncOpsPerformed = 1
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Params builds the assoc.Params this configuration describes.
func (c *Config) Params() assoc.Params {
	return assoc.Params{
		CallingAETitle:    c.CallingAETitle,
		CalledAETitle:     c.CalledAETitle,
		Host:              c.Host,
		Port:              c.Port,
		TLS:               c.TLS,
		AsyncOpsInvoked:   c.AsyncOpsInvoked,
		AsyncOpsPerformed: c.AsyncOpsPerformed,
	}
}

// AssocTimeouts builds the assoc.Timeouts this configuration describes.
func (c *Config) AssocTimeouts() assoc.Timeouts {
	return assoc.Timeouts{
		AssociationRequest: c.Timeouts.AssociationRequest,
		AssociationRelease: c.Timeouts.AssociationRelease,
		AssociationLinger:  c.Timeouts.AssociationLinger,
	}
}

// Logger builds a zap.Logger at the configured level, falling back to
// info on an unrecognized name rather than erroring (spec §6 ambient
// logging is informational, not load-bearing).
func (c *Config) Logger() (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	return zapCfg.Build()
}
