package config

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const DefaultInvitationTTL = 7 * 24 * time.Hour

// PolicyConfig holds tunables that can change without a restart.
type PolicyConfig struct {
	InvitationTTL         time.Duration   `mapstructure:"invitationTTL"`
	MaxPendingInvitations int             `mapstructure:"maxPendingInvitations"`
	LogLevel              string          `mapstructure:"logLevel"`
	RateLimits            RateLimitPolicy `mapstructure:"rateLimits"`
}

type RateLimitPolicy struct {
	Login            RateRule `mapstructure:"login"`
	Signup           RateRule `mapstructure:"signup"`
	InvitationAccept RateRule `mapstructure:"invitationAccept"`
}

// RateRule is a token bucket refilled at Rate tokens per second up to Burst.
type RateRule struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		InvitationTTL:         DefaultInvitationTTL,
		MaxPendingInvitations: 100,
		LogLevel:              "info",
		RateLimits: RateLimitPolicy{
			Login:            RateRule{Rate: 0.2, Burst: 5},
			Signup:           RateRule{Rate: 0.05, Burst: 3},
			InvitationAccept: RateRule{Rate: 0.5, Burst: 10},
		},
	}
}

type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig

	mu        sync.Mutex
	listeners []func(PolicyConfig)
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPolicyHolder(appCfg Config) (*PolicyHolder, error) {
	v := viper.New()

	if appCfg.PolicyConfigPath != "" {
		v.SetConfigFile(appCfg.PolicyConfigPath)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/tenantry")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TENANTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicyConfig()
	defaults.InvitationTTL = appCfg.InvitationTTL
	v.SetDefault("policy.invitationTTL", defaults.InvitationTTL)
	v.SetDefault("policy.maxPendingInvitations", defaults.MaxPendingInvitations)
	v.SetDefault("policy.logLevel", defaults.LogLevel)
	v.SetDefault("policy.rateLimits.login.rate", defaults.RateLimits.Login.Rate)
	v.SetDefault("policy.rateLimits.login.burst", defaults.RateLimits.Login.Burst)
	v.SetDefault("policy.rateLimits.signup.rate", defaults.RateLimits.Signup.Rate)
	v.SetDefault("policy.rateLimits.signup.burst", defaults.RateLimits.Signup.Burst)
	v.SetDefault("policy.rateLimits.invitationAccept.rate", defaults.RateLimits.InvitationAccept.Rate)
	v.SetDefault("policy.rateLimits.invitationAccept.burst", defaults.RateLimits.InvitationAccept.Burst)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			zap.L().Warn("policy config reload ignored", zap.String("file", filepath.Base(e.Name)), zap.Error(err))
			return
		}
		holder.store(updated)
		zap.L().Info("policy config reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

// OnChange registers fn to run after every successful reload.
func (h *PolicyHolder) OnChange(fn func(PolicyConfig)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *PolicyHolder) store(cfg PolicyConfig) {
	h.current.Store(cfg)

	h.mu.Lock()
	listeners := append([]func(PolicyConfig){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

func decodePolicy(v *viper.Viper) (PolicyConfig, error) {
	// Unmarshal walks AllSettings, which merges file values over nested defaults.
	var wrapper struct {
		Policy PolicyConfig `mapstructure:"policy"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return PolicyConfig{}, err
	}
	if err := validatePolicy(wrapper.Policy); err != nil {
		return PolicyConfig{}, err
	}
	return wrapper.Policy, nil
}

func validatePolicy(cfg PolicyConfig) error {
	if cfg.InvitationTTL <= 0 {
		return errors.New("policy.invitationTTL must be positive")
	}
	if cfg.MaxPendingInvitations < 0 {
		return errors.New("policy.maxPendingInvitations cannot be negative")
	}
	for name, rule := range map[string]RateRule{
		"login":            cfg.RateLimits.Login,
		"signup":           cfg.RateLimits.Signup,
		"invitationAccept": cfg.RateLimits.InvitationAccept,
	} {
		if rule.Rate <= 0 || rule.Burst <= 0 {
			return errors.New("policy.rateLimits." + name + " requires positive rate and burst")
		}
	}
	return nil
}
