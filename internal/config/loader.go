package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "CALMMIND_"
	envFile   = "CALMMIND_CONFIG"
)

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	path string
}

// WithFile loads path instead of the file named by CALMMIND_CONFIG.
func WithFile(path string) LoadOption {
	return func(o *loadOptions) {
		if path != "" {
			o.path = path
		}
	}
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) from WithFile or CALMMIND_CONFIG
//  3. env (prefix CALMMIND_)
//
// Per-feature risk weights are case sensitive and can only be set from
// the file; risk.bias and risk.risk_threshold also map from env.
func Load(ctx context.Context, opts ...LoadOption) (*Config, error) {
	o := loadOptions{path: os.Getenv(envFile)}
	for _, opt := range opts {
		opt(&o)
	}

	base := New(ctx)
	k := koanf.New(".")

	if o.path != "" {
		if err := k.Load(file.Provider(o.path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, o.path, err)
		}
	}

	// CALMMIND_AUDIT_QUEUE_SIZE -> audit_queue_size, CALMMIND_RISK_BIAS -> risk.bias.
	envProvider := env.Provider(envPrefix, ".", envKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, strings.ToLower(envPrefix))
	if rest, ok := strings.CutPrefix(s, "risk_"); ok {
		return "risk." + rest
	}
	return s
}
