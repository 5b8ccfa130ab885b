package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const bpsDenominator = 10_000

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	AuditDBPath   string `toml:"AuditDBPath"`
	LogFile       string `toml:"LogFile,omitempty"`
	Environment   string `toml:"Environment"`

	Auth   Auth   `toml:"Auth"`
	Engine Engine `toml:"Engine"`
}

// Auth configures the gateway bearer-token checks.
type Auth struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
	AdminScope string `toml:"AdminScope"`
}

// Rates is the bonus-rate table, all values in basis points.
type Rates struct {
	AdminFeeBps        uint32 `toml:"AdminFeeBps"`
	DirectBps          uint32 `toml:"DirectBps"`
	Level1Bps          uint32 `toml:"Level1Bps"`
	Level2to3Bps       uint32 `toml:"Level2to3Bps"`
	UplineAggregateBps uint32 `toml:"UplineAggregateBps"`
	BinaryBps          uint32 `toml:"BinaryBps"`
	LeaderPoolBps      uint32 `toml:"LeaderPoolBps"`
	HelpPoolBps        uint32 `toml:"HelpPoolBps"`
	ClubPoolBps        uint32 `toml:"ClubPoolBps"`
}

// Package is one tier catalog entry. Prices are integer minor units.
type Package struct {
	Tier          uint8  `toml:"Tier"`
	PriceMinor    int64  `toml:"PriceMinor"`
	CapMultiplier uint32 `toml:"CapMultiplier"`
}

// Pools configures distribution schedules and club eligibility.
type Pools struct {
	LeaderIntervalHours uint32 `toml:"LeaderIntervalHours"`
	HelpIntervalHours   uint32 `toml:"HelpIntervalHours"`
	ClubMinTier         uint8  `toml:"ClubMinTier"`
}

// Ranks configures the leader qualification thresholds.
type Ranks struct {
	ShiningStarTeam    uint64 `toml:"ShiningStarTeam"`
	ShiningStarDirects uint32 `toml:"ShiningStarDirects"`
	SilverStarTeam     uint64 `toml:"SilverStarTeam"`
}

// WithdrawalTier maps a direct-referral threshold to a payable share.
type WithdrawalTier struct {
	MinDirects uint32 `toml:"MinDirects"`
	PayableBps uint32 `toml:"PayableBps"`
}

// Withdrawal configures the progressive withdrawal policy.
type Withdrawal struct {
	AdminFeeBps      uint32           `toml:"AdminFeeBps"`
	CompoundBonusBps uint32           `toml:"CompoundBonusBps"`
	Tiers            []WithdrawalTier `toml:"Tiers"`
}

// Engine groups the compensation-plan parameters. They are read-only to the
// engine at transaction time; administrative updates land between operations.
type Engine struct {
	Rates      Rates      `toml:"Rates"`
	Packages   []Package  `toml:"Packages"`
	Pools      Pools      `toml:"Pools"`
	Ranks      Ranks      `toml:"Ranks"`
	Withdrawal Withdrawal `toml:"Withdrawal"`
}

// Load reads the configuration from path, creating a default file on first
// run, and validates it.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %s", path, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in compensation plan: a four-package catalog at
// $30/$50/$100/$200 with a 4x earnings cap, and the standard rate table.
func Default() *Config {
	return &Config{
		ListenAddress: "127.0.0.1:8680",
		DataDir:       "./orphi-data",
		AuditDBPath:   "./orphi-data/audit.db",
		Environment:   "local",
		Auth: Auth{
			Enabled:    false,
			AdminScope: "engine.admin",
		},
		Engine: Engine{
			Rates: Rates{
				AdminFeeBps:        500,
				DirectBps:          1000,
				Level1Bps:          300,
				Level2to3Bps:       100,
				UplineAggregateBps: 1000,
				BinaryBps:          1000,
				LeaderPoolBps:      1000,
				HelpPoolBps:        3000,
				ClubPoolBps:        500,
			},
			Packages: []Package{
				{Tier: 1, PriceMinor: 3000, CapMultiplier: 4},
				{Tier: 2, PriceMinor: 5000, CapMultiplier: 4},
				{Tier: 3, PriceMinor: 10000, CapMultiplier: 4},
				{Tier: 4, PriceMinor: 20000, CapMultiplier: 4},
			},
			Pools: Pools{
				LeaderIntervalHours: 14 * 24,
				HelpIntervalHours:   7 * 24,
				ClubMinTier:         3,
			},
			Ranks: Ranks{
				ShiningStarTeam:    250,
				ShiningStarDirects: 10,
				SilverStarTeam:     500,
			},
			Withdrawal: Withdrawal{
				AdminFeeBps:      500,
				CompoundBonusBps: 500,
				Tiers: []WithdrawalTier{
					{MinDirects: 0, PayableBps: 7000},
					{MinDirects: 5, PayableBps: 7500},
					{MinDirects: 20, PayableBps: 8000},
				},
			},
		},
	}
}

// Validate checks bounds on every configured rate and threshold.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: ListenAddress must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir must be set")
	}
	if c.Auth.Enabled && c.Auth.HMACSecret == "" {
		return fmt.Errorf("config: Auth.HMACSecret required when auth is enabled")
	}
	return c.Engine.Validate()
}

// Validate checks the engine parameters.
func (e *Engine) Validate() error {
	r := e.Rates
	for _, check := range []struct {
		name string
		bps  uint32
	}{
		{"AdminFeeBps", r.AdminFeeBps},
		{"DirectBps", r.DirectBps},
		{"Level1Bps", r.Level1Bps},
		{"Level2to3Bps", r.Level2to3Bps},
		{"UplineAggregateBps", r.UplineAggregateBps},
		{"BinaryBps", r.BinaryBps},
		{"LeaderPoolBps", r.LeaderPoolBps},
		{"HelpPoolBps", r.HelpPoolBps},
		{"ClubPoolBps", r.ClubPoolBps},
	} {
		if check.bps > bpsDenominator {
			return fmt.Errorf("config: %s must be <= %d", check.name, bpsDenominator)
		}
	}
	split := uint64(r.DirectBps) + uint64(r.Level1Bps) + 2*uint64(r.Level2to3Bps) +
		uint64(r.UplineAggregateBps) + uint64(r.BinaryBps) +
		uint64(r.LeaderPoolBps) + uint64(r.HelpPoolBps) + uint64(r.ClubPoolBps)
	if split > bpsDenominator {
		return fmt.Errorf("config: distribution rates sum to %d bps, exceeding %d", split, bpsDenominator)
	}
	if len(e.Packages) == 0 {
		return fmt.Errorf("config: at least one package tier required")
	}
	seen := make(map[uint8]bool, len(e.Packages))
	for _, pkg := range e.Packages {
		if pkg.Tier == 0 {
			return fmt.Errorf("config: package tier ordinals start at 1")
		}
		if seen[pkg.Tier] {
			return fmt.Errorf("config: duplicate package tier %d", pkg.Tier)
		}
		seen[pkg.Tier] = true
		if pkg.PriceMinor <= 0 {
			return fmt.Errorf("config: package tier %d price must be positive", pkg.Tier)
		}
		if pkg.CapMultiplier == 0 {
			return fmt.Errorf("config: package tier %d cap multiplier must be positive", pkg.Tier)
		}
	}
	if e.Pools.LeaderIntervalHours == 0 || e.Pools.HelpIntervalHours == 0 {
		return fmt.Errorf("config: pool intervals must be positive")
	}
	w := e.Withdrawal
	if w.AdminFeeBps > bpsDenominator || w.CompoundBonusBps > bpsDenominator {
		return fmt.Errorf("config: withdrawal rates must be <= %d", bpsDenominator)
	}
	if len(w.Tiers) == 0 {
		return fmt.Errorf("config: at least one withdrawal tier required")
	}
	base := false
	for _, tier := range w.Tiers {
		if tier.PayableBps > bpsDenominator {
			return fmt.Errorf("config: withdrawal tier payable must be <= %d", bpsDenominator)
		}
		if tier.MinDirects == 0 {
			base = true
		}
	}
	if !base {
		return fmt.Errorf("config: withdrawal tiers need a MinDirects=0 base rule")
	}
	return nil
}

// LeaderInterval returns the leader pool schedule as a duration.
func (p Pools) LeaderInterval() time.Duration {
	return time.Duration(p.LeaderIntervalHours) * time.Hour
}

// HelpInterval returns the help pool schedule as a duration.
func (p Pools) HelpInterval() time.Duration {
	return time.Duration(p.HelpIntervalHours) * time.Hour
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
