package core

import (
	"fmt"
	"strings"
	"time"
)

type RefreshConfig struct {
	LeadWindow time.Duration `koanf:"lead_window" mapstructure:"lead_window"`
	LockTTL    time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Refresh     RefreshConfig `koanf:"refresh" mapstructure:"refresh"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "billing-connect",
		Refresh: RefreshConfig{
			LeadWindow: DefaultRefreshLeadWindow,
			LockTTL:    defaultRefreshLockTTL,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Refresh.LeadWindow < 0 {
		return fmt.Errorf("core: refresh lead_window must not be negative")
	}
	return nil
}
