// Package config loads the daemon configuration from a YAML file plus the
// environment. Key material never lives in the YAML file: secrets come
// from the environment (optionally via a .env file in development) and are
// resolved here, once, at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phenomenon0/edgetrader/pkg/feed"
	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/trader/analyzer"
	"github.com/phenomenon0/edgetrader/pkg/trader/arb"
	"github.com/phenomenon0/edgetrader/pkg/trader/policy"
	"github.com/phenomenon0/edgetrader/pkg/trader/webhook"
	"github.com/phenomenon0/edgetrader/pkg/venue"
	"github.com/phenomenon0/edgetrader/pkg/venue/signer"
)

// VenueConfig is the per-venue connection and signing configuration.
type VenueConfig struct {
	venue.Config `yaml:",inline"`

	// Scheme selects the signing algorithm: rsa-pss or ec.
	Scheme signer.Scheme `yaml:"scheme"`
	// KeyIDEnv and KeyEnv name the environment variables holding the key
	// identifier and the private key material.
	KeyIDEnv string `yaml:"key_id_env"`
	KeyEnv   string `yaml:"key_env"`
	// KeyFile optionally points at a PEM file instead of KeyEnv.
	KeyFile string `yaml:"key_file"`
	// Feed is the venue's quote stream, if it has one.
	Feed feed.Config `yaml:"feed"`
}

// CalibrationConfig tunes the trading gate.
type CalibrationConfig struct {
	BrierCeiling float64 `yaml:"brier_ceiling"`
	Window       int     `yaml:"window"`
}

// Config is the full daemon configuration.
type Config struct {
	Logging     logging.Config    `yaml:"logging"`
	Venues      []VenueConfig     `yaml:"venues"`
	Analyzer    analyzer.Config   `yaml:"analyzer"`
	Limits      policy.Limits     `yaml:"limits"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Arbitrage   arb.Config        `yaml:"arbitrage"`
	Webhooks    webhook.Config    `yaml:"webhooks"`

	Portfolio    string        `yaml:"portfolio"`
	DryRun       bool          `yaml:"dry_run"`
	TickInterval time.Duration `yaml:"tick_interval"`
	DataDir      string        `yaml:"data_dir"`
	HTTPAddr     string        `yaml:"http_addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging:      logging.DefaultConfig(),
		Analyzer:     analyzer.DefaultConfig(),
		Limits:       policy.DefaultLimits(),
		Calibration:  CalibrationConfig{BrierCeiling: 0.25, Window: 100},
		Arbitrage:    arb.DefaultConfig(),
		Webhooks:     webhook.DefaultConfig(),
		Portfolio:    "default",
		DryRun:       true,
		TickInterval: 30 * time.Second,
		DataDir:      "data",
		HTTPAddr:     ":8080",
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults. A .env file in the working directory, when
// present, is loaded into the environment first.
func Load(path string) (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Signer resolves the key material for a venue and constructs its signer.
func (v VenueConfig) Signer() (signer.Signer, error) {
	keyID := os.Getenv(v.KeyIDEnv)
	if keyID == "" {
		return nil, fmt.Errorf("config: venue %s: %s is not set", v.Name, v.KeyIDEnv)
	}

	var material string
	if v.KeyFile != "" {
		b, err := os.ReadFile(v.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("config: venue %s: read key file: %w", v.Name, err)
		}
		material = string(b)
	} else {
		material = os.Getenv(v.KeyEnv)
	}
	if material == "" {
		return nil, fmt.Errorf("config: venue %s: no key material (%s or key_file)", v.Name, v.KeyEnv)
	}

	switch v.Scheme {
	case signer.SchemeEC:
		return signer.NewEC(keyID, material)
	case signer.SchemeRSAPSS, "":
		return signer.NewRSAPSS(keyID, []byte(material))
	default:
		return nil, fmt.Errorf("config: venue %s: unknown signing scheme %q", v.Name, v.Scheme)
	}
}
