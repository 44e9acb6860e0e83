package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"hopline/internal/domain"
)

// Config models hopline.yml.
type Config struct {
	Chain struct {
		MaxDepth int `yaml:"max_depth"`
	} `yaml:"chain"`
	Stake struct {
		DefaultLockDays int `yaml:"default_lock_days"`
		Tiers           struct {
			Bronze   float64 `yaml:"bronze"`
			Silver   float64 `yaml:"silver"`
			Gold     float64 `yaml:"gold"`
			Platinum float64 `yaml:"platinum"`
		} `yaml:"tiers"`
		SlashRatePerSeverity float64 `yaml:"slash_rate_per_severity"`
		SlashCap             float64 `yaml:"slash_cap"`
	} `yaml:"stake"`
	Rewards struct {
		HonestForward struct {
			Enabled   bool    `yaml:"enabled"`
			Divisor   float64 `yaml:"divisor"`
			MaxPoints int     `yaml:"max_points"`
		} `yaml:"honest_forward"`
		CycleReportPointsPerAgent int `yaml:"cycle_report_points_per_agent"`
	} `yaml:"rewards"`
	Penalties struct {
		PointsPerDepth int `yaml:"points_per_depth"`
		MaxPoints      int `yaml:"max_points"`
		RootMultiplier int `yaml:"root_multiplier"`
	} `yaml:"penalties"`
	Decay struct {
		InactivityDays int    `yaml:"inactivity_days"`
		Interval       string `yaml:"interval"`
	} `yaml:"decay"`
	Sybil struct {
		Floor float64 `yaml:"floor"`
	} `yaml:"sybil"`
	Locks struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"locks"`
	Server struct {
		RequestsPerMinute int      `yaml:"requests_per_minute"`
		MaxBodyBytes      int64    `yaml:"max_body_bytes"`
		TrustedProxies    []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with hl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Chain.MaxDepth < 1 || c.Chain.MaxDepth > domain.MaxChainDepth {
		return fmt.Errorf("config.chain.max_depth must be between 1 and %d", domain.MaxChainDepth)
	}
	if c.Stake.DefaultLockDays < 0 {
		return fmt.Errorf("config.stake.default_lock_days must not be negative")
	}
	t := c.Stake.Tiers
	if !(0 < t.Bronze && t.Bronze < t.Silver && t.Silver < t.Gold && t.Gold < t.Platinum) {
		return fmt.Errorf("config.stake.tiers must be positive and strictly increasing")
	}
	if c.Stake.SlashRatePerSeverity <= 0 || c.Stake.SlashRatePerSeverity > 1 {
		return fmt.Errorf("config.stake.slash_rate_per_severity must be in (0,1]")
	}
	if c.Stake.SlashCap <= 0 || c.Stake.SlashCap > 1 {
		return fmt.Errorf("config.stake.slash_cap must be in (0,1]")
	}
	if c.Rewards.HonestForward.Enabled {
		if c.Rewards.HonestForward.Divisor <= 0 {
			return fmt.Errorf("config.rewards.honest_forward.divisor must be positive")
		}
		if c.Rewards.HonestForward.MaxPoints < 0 {
			return fmt.Errorf("config.rewards.honest_forward.max_points must not be negative")
		}
	}
	if c.Rewards.CycleReportPointsPerAgent < 0 {
		return fmt.Errorf("config.rewards.cycle_report_points_per_agent must not be negative")
	}
	if c.Penalties.PointsPerDepth < 0 || c.Penalties.MaxPoints < 0 || c.Penalties.MaxPoints > 100 {
		return fmt.Errorf("config.penalties points must be within 0..100")
	}
	if c.Penalties.RootMultiplier < 1 {
		return fmt.Errorf("config.penalties.root_multiplier must be at least 1")
	}
	if c.Decay.InactivityDays < 1 {
		return fmt.Errorf("config.decay.inactivity_days must be at least 1")
	}
	if _, err := time.ParseDuration(c.Decay.Interval); err != nil {
		return fmt.Errorf("config.decay.interval: %w", err)
	}
	if c.Sybil.Floor < 0 || c.Sybil.Floor > 100 {
		return fmt.Errorf("config.sybil.floor must be within 0..100")
	}
	if _, err := time.ParseDuration(c.Locks.Timeout); err != nil {
		return fmt.Errorf("config.locks.timeout: %w", err)
	}
	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("config.server.requests_per_minute must not be negative")
	}
	for _, entry := range c.Server.TrustedProxies {
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("config.server.trusted_proxies: %q is not an IP or CIDR", entry)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	return nil
}

// TierThresholds converts the configured tier minimums to decimals.
func (c *Config) TierThresholds() domain.TierThresholds {
	return domain.TierThresholds{
		Bronze:   decimal.NewFromFloat(c.Stake.Tiers.Bronze),
		Silver:   decimal.NewFromFloat(c.Stake.Tiers.Silver),
		Gold:     decimal.NewFromFloat(c.Stake.Tiers.Gold),
		Platinum: decimal.NewFromFloat(c.Stake.Tiers.Platinum),
	}
}

// DecayInterval is the period between scheduled decay passes.
func (c *Config) DecayInterval() time.Duration {
	d, err := time.ParseDuration(c.Decay.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// LockTimeout bounds how long an operation waits for a per-key lock.
func (c *Config) LockTimeout() time.Duration {
	d, err := time.ParseDuration(c.Locks.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hopline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `chain:
  max_depth: 10

stake:
  default_lock_days: 30
  tiers:
    bronze: 100
    silver: 1000
    gold: 5000
    platinum: 10000
  slash_rate_per_severity: 0.1
  slash_cap: 0.5

rewards:
  honest_forward:
    enabled: true
    divisor: 10
    max_points: 10
  cycle_report_points_per_agent: 15

penalties:
  points_per_depth: 10
  max_points: 30
  root_multiplier: 2

decay:
  inactivity_days: 30
  interval: 1h

sybil:
  floor: 20

locks:
  timeout: 5s

server:
  requests_per_minute: 600
  max_body_bytes: 1048576
  # Peers whose X-Forwarded-For / X-Real-IP headers are trusted (IPs or CIDRs).
  trusted_proxies: []

log:
  level: info
`
