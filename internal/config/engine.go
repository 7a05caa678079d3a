package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/creatorops/internal/scoring"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig tunes the automation engine. Rules and escalation levels are
// not part of it; they live in the registry.
type EngineConfig struct {
	Scoring   scoring.Config  `mapstructure:"scoring"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Lock      LockConfig      `mapstructure:"lock"`
}

type LifecycleConfig struct {
	OnboardingDays        int     `mapstructure:"onboarding_days"`
	ActivationDays        int     `mapstructure:"activation_days"`
	AtRiskMinRisk         float64 `mapstructure:"at_risk_min_risk"`
	ChurningMinRisk       float64 `mapstructure:"churning_min_risk"`
	ReactivationGraceDays int     `mapstructure:"reactivation_grace_days"`
}

type SnapshotConfig struct {
	PeriodDays   int `mapstructure:"period_days"`
	LookbackDays int `mapstructure:"lookback_days"`
}

type SweepConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
}

// LockConfig controls the optional redis lock around a rule trigger.
type LockConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Scoring: scoring.DefaultConfig(),
		Lifecycle: LifecycleConfig{
			OnboardingDays:        7,
			ActivationDays:        30,
			AtRiskMinRisk:         40,
			ChurningMinRisk:       70,
			ReactivationGraceDays: 14,
		},
		Snapshot: SnapshotConfig{
			PeriodDays:   30,
			LookbackDays: 365,
		},
		Sweep: SweepConfig{
			Interval:    15 * time.Minute,
			BatchSize:   200,
			Concurrency: 8,
		},
		Lock: LockConfig{
			Enabled: false,
			TTL:     30 * time.Second,
		},
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	defaults := DefaultEngineConfig()
	if len(c.Scoring.Factors) == 0 {
		c.Scoring.Factors = defaults.Scoring.Factors
	}
	if len(c.Scoring.Buckets) == 0 {
		c.Scoring.Buckets = defaults.Scoring.Buckets
	}
	if c.Lifecycle.OnboardingDays <= 0 {
		c.Lifecycle.OnboardingDays = defaults.Lifecycle.OnboardingDays
	}
	if c.Lifecycle.ActivationDays <= 0 {
		c.Lifecycle.ActivationDays = defaults.Lifecycle.ActivationDays
	}
	if c.Lifecycle.AtRiskMinRisk <= 0 {
		c.Lifecycle.AtRiskMinRisk = defaults.Lifecycle.AtRiskMinRisk
	}
	if c.Lifecycle.ChurningMinRisk <= 0 {
		c.Lifecycle.ChurningMinRisk = defaults.Lifecycle.ChurningMinRisk
	}
	if c.Lifecycle.ReactivationGraceDays <= 0 {
		c.Lifecycle.ReactivationGraceDays = defaults.Lifecycle.ReactivationGraceDays
	}
	if c.Snapshot.PeriodDays <= 0 {
		c.Snapshot.PeriodDays = defaults.Snapshot.PeriodDays
	}
	if c.Snapshot.LookbackDays <= 0 {
		c.Snapshot.LookbackDays = defaults.Snapshot.LookbackDays
	}
	if c.Sweep.Interval <= 0 {
		c.Sweep.Interval = defaults.Sweep.Interval
	}
	if c.Sweep.BatchSize <= 0 {
		c.Sweep.BatchSize = defaults.Sweep.BatchSize
	}
	if c.Sweep.Concurrency <= 0 {
		c.Sweep.Concurrency = defaults.Sweep.Concurrency
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = defaults.Lock.TTL
	}
	return c
}

// EngineConfigHolder serves the current engine config and swaps it on file change.
type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder returns a holder that never reloads.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewEngineConfigHolder(appCfg Config, log *zap.Logger) (*EngineConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("engine-config")

	v := viper.New()
	if appCfg.EngineConfigPath != "" {
		v.SetConfigFile(appCfg.EngineConfigPath)
	} else {
		v.SetConfigName("engine")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/creatorops")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("CREATOROPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &EngineConfigHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("engine config file not found, using defaults")
		holder.current.Store(DefaultEngineConfig())
		return holder, nil
	}

	cfg, err := decodeEngineConfig(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeEngineConfig(v)
		if err != nil {
			log.Warn("engine config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("engine config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func decodeEngineConfig(v *viper.Viper) (EngineConfig, error) {
	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return EngineConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	if h == nil {
		return DefaultEngineConfig()
	}
	cfg, ok := h.current.Load().(EngineConfig)
	if !ok {
		return DefaultEngineConfig()
	}
	return cfg
}

// Store replaces the current config after validation.
func (h *EngineConfigHolder) Store(cfg EngineConfig) error {
	cfg = cfg.withDefaults()
	if err := ValidateEngineConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if err := cfg.Scoring.Validate(); err != nil {
		return err
	}
	lc := cfg.Lifecycle
	if lc.OnboardingDays >= lc.ActivationDays {
		return fmt.Errorf("engine.lifecycle: onboarding_days (%d) must be below activation_days (%d)", lc.OnboardingDays, lc.ActivationDays)
	}
	if lc.AtRiskMinRisk >= lc.ChurningMinRisk {
		return fmt.Errorf("engine.lifecycle: at_risk_min_risk (%v) must be below churning_min_risk (%v)", lc.AtRiskMinRisk, lc.ChurningMinRisk)
	}
	if lc.ChurningMinRisk > 100 {
		return errors.New("engine.lifecycle: churning_min_risk cannot exceed 100")
	}
	if cfg.Snapshot.PeriodDays*2 > cfg.Snapshot.LookbackDays {
		return errors.New("engine.snapshot: lookback_days must cover two periods")
	}
	return nil
}
