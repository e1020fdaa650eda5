package ratecontrol

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type config struct {
	RateLimits struct {
		DefaultRPM        int                  `yaml:"default_rpm"`
		DefaultTPM        int                  `yaml:"default_tpm"`
		ModelOverrides    map[string]rateEntry `yaml:"model_overrides"`
		ProviderOverrides map[string]rateEntry `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

type rateEntry struct {
	RPM int `yaml:"rpm"`
	TPM int `yaml:"tpm"`
}

// RateLimit caps requests and tokens per minute. Zero means unlimited.
type RateLimit struct {
	RPM int
	TPM int
}

// Unlimited reports whether neither dimension is capped.
func (l RateLimit) Unlimited() bool { return l.RPM <= 0 && l.TPM <= 0 }

// Limits resolves the rate limit for a provider and model.
type Limits struct {
	defaults  RateLimit
	models    map[string]RateLimit
	providers map[string]RateLimit
}

// Load reads the rate_limits section of models.yaml. An empty path yields
// the built-in provider limits.
func Load(path string) (*Limits, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limit config: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse builds limits from models.yaml content.
func Parse(data []byte) (*Limits, error) {
	var cfg config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse rate limits: %w", err)
		}
	}
	l := &Limits{
		defaults:  RateLimit{RPM: cfg.RateLimits.DefaultRPM, TPM: cfg.RateLimits.DefaultTPM},
		models:    make(map[string]RateLimit),
		providers: make(map[string]RateLimit),
	}
	for k, v := range cfg.RateLimits.ModelOverrides {
		if v.RPM < 0 || v.TPM < 0 {
			return nil, fmt.Errorf("negative rate limit for model %s", k)
		}
		l.models[normalize(k)] = RateLimit{RPM: v.RPM, TPM: v.TPM}
	}
	for k, v := range cfg.RateLimits.ProviderOverrides {
		if v.RPM < 0 || v.TPM < 0 {
			return nil, fmt.Errorf("negative rate limit for provider %s", k)
		}
		l.providers[normalize(k)] = RateLimit{RPM: v.RPM, TPM: v.TPM}
	}
	return l, nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// LimitForModel returns the model override, or the configured defaults.
func (l *Limits) LimitForModel(model string) RateLimit {
	if override, ok := l.models[normalize(model)]; ok {
		return override
	}
	return l.defaults
}

// LimitForProvider returns the provider override, falling back to the
// built-in table.
func (l *Limits) LimitForProvider(provider string) RateLimit {
	if override, ok := l.providers[normalize(provider)]; ok {
		return override
	}
	if limit, ok := builtInProviderLimits[normalize(provider)]; ok {
		return limit
	}
	return RateLimit{}
}

// LimitFor combines the provider and model limits, keeping the stricter
// value for each dimension.
func (l *Limits) LimitFor(provider, model string) RateLimit {
	return CombineLimits(l.LimitForProvider(provider), l.LimitForModel(model))
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"mistral":   {RPM: 50, TPM: 100000},
	"deepseek":  {RPM: 30, TPM: 60000},
	"unknown":   {RPM: 45, TPM: 90000},
}

func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{}
	limit.RPM = minPositive(a.RPM, b.RPM)
	limit.TPM = minPositive(a.TPM, b.TPM)
	return limit
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		if a < b {
			return a
		}
		return b
	}
}
