package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/repairpay/internal/commission"
	"github.com/spf13/viper"
)

// PayrollConfig is the operator-tunable part of payroll.
type PayrollConfig struct {
	VATRate           float64       `mapstructure:"vatRate"`
	TechnicianShare   float64       `mapstructure:"technicianShare"`
	SettlementLockTTL time.Duration `mapstructure:"settlementLockTTL"`
}

func DefaultPayrollConfig() PayrollConfig {
	return PayrollConfig{
		VATRate:           0.19,
		TechnicianShare:   0.40,
		SettlementLockTTL: 30 * time.Second,
	}
}

// PayrollHolder serves the current payroll config and swaps it on file change.
type PayrollHolder struct {
	current atomic.Value // holds PayrollConfig
}

// NewPayrollHolderFrom returns a holder that never reloads.
func NewPayrollHolderFrom(cfg PayrollConfig) (*PayrollHolder, error) {
	if err := ValidatePayrollConfig(cfg); err != nil {
		return nil, err
	}
	holder := &PayrollHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewPayrollHolder(appCfg Config) (*PayrollHolder, error) {
	v := viper.New()

	if appCfg.PayrollConfigPath != "" {
		v.SetConfigFile(appCfg.PayrollConfigPath)
	} else {
		v.SetConfigName("payroll")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/repairpay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("REPAIRPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPayrollConfig()
	v.SetDefault("payroll.vatRate", defaults.VATRate)
	v.SetDefault("payroll.technicianShare", defaults.TechnicianShare)
	v.SetDefault("payroll.settlementLockTTL", defaults.SettlementLockTTL)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg PayrollConfig
	if err := v.UnmarshalKey("payroll", &cfg); err != nil {
		return nil, err
	}
	holder, err := NewPayrollHolderFrom(cfg)
	if err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PayrollConfig
		if err := v.UnmarshalKey("payroll", &updated); err != nil {
			log.Printf("[payroll-config] reload failed: %v", err)
			return
		}
		if err := ValidatePayrollConfig(updated); err != nil {
			log.Printf("[payroll-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payroll-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PayrollHolder) Get() PayrollConfig {
	return h.current.Load().(PayrollConfig)
}

// Policy implements commission.PolicySource.
func (h *PayrollHolder) Policy() commission.Policy {
	cfg := h.Get()
	return commission.NewPolicy(cfg.VATRate, cfg.TechnicianShare)
}

func ValidatePayrollConfig(cfg PayrollConfig) error {
	if cfg.VATRate < 0 || cfg.VATRate >= 1 {
		return errors.New("payroll.vatRate must be in [0, 1)")
	}
	if cfg.TechnicianShare <= 0 || cfg.TechnicianShare > 1 {
		return errors.New("payroll.technicianShare must be in (0, 1]")
	}
	if cfg.SettlementLockTTL < 0 {
		return errors.New("payroll.settlementLockTTL cannot be negative")
	}
	return nil
}
