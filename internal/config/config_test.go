package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Chain.MaxDepth != 10 {
		t.Fatalf("expected max depth 10, got %d", cfg.Chain.MaxDepth)
	}
	tiers := cfg.TierThresholds()
	if !tiers.Silver.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected silver tier at 1000, got %s", tiers.Silver)
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("decay:\n  interval: 15m\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DecayInterval() != 15*time.Minute {
		t.Fatalf("expected 15m interval, got %s", cfg.DecayInterval())
	}
	if cfg.Decay.InactivityDays != Default().Decay.InactivityDays {
		t.Fatalf("inactivity days should keep its default")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"depth":    "chain:\n  max_depth: 0\n",
		"tiers":    "stake:\n  tiers:\n    bronze: 100\n    silver: 50\n",
		"slash":    "stake:\n  slash_cap: 1.5\n",
		"interval": "decay:\n  interval: soon\n",
		"yaml":     "chain: [",
		"proxies":  "server:\n  trusted_proxies: [\"lb.internal\"]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", doc)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "hl init") {
		t.Fatalf("expected hint to run hl init, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg.Chain.MaxDepth != 10 {
		t.Fatalf("optional load: %+v %v", cfg, err)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load generated default: %v", err)
	}
}
