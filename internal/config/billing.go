package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the operator-tunable recurring billing defaults.
// Amounts are minor units.
type BillingConfig struct {
	MonthlyAmount      int64  `mapstructure:"monthlyAmount"`
	MonthlyDescription string `mapstructure:"monthlyDescription"`
	ReceiptReplyTo     string `mapstructure:"receiptReplyTo"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		MonthlyAmount:      2500,
		MonthlyDescription: "Monthly hosting and maintenance",
	}
}

// BillingConfigHolder exposes the current billing config and hot-reloads
// it when the backing file changes.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/studiodesk/config")
	v.AddConfigPath("/etc/studiodesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STUDIODESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingConfig()
		v.SetDefault("billing.monthlyAmount", defaults.MonthlyAmount)
		v.SetDefault("billing.monthlyDescription", defaults.MonthlyDescription)
	}

	holder := &BillingConfigHolder{}
	if err := holder.reload(v); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(in fsnotify.Event) {
		if err := holder.reload(v); err != nil {
			log.Printf("billing config reload failed: %v", err)
		}
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) reload(v *viper.Viper) error {
	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return err
	}
	if cfg.MonthlyAmount <= 0 {
		cfg.MonthlyAmount = DefaultBillingConfig().MonthlyAmount
	}
	if strings.TrimSpace(cfg.MonthlyDescription) == "" {
		cfg.MonthlyDescription = DefaultBillingConfig().MonthlyDescription
	}
	h.current.Store(cfg)
	return nil
}

// Current returns the latest loaded billing config.
func (h *BillingConfigHolder) Current() BillingConfig {
	if v, ok := h.current.Load().(BillingConfig); ok {
		return v
	}
	return DefaultBillingConfig()
}
