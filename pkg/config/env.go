package config

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FAMIGRATE_"

// LookupFunc reads one variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// EnvLookup returns a lookup over the process environment, falling back to
// the values in dotenv when it exists. The process environment wins.
func EnvLookup(ctx context.Context, dotenv string) (LookupFunc, error) {
	values := map[string]string{}

	if dotenv != "" {
		if _, err := os.Stat(dotenv); err == nil {
			values, err = godotenv.Read(dotenv)
			if err != nil {
				return nil, errors.Errorf("reading %s: %w", dotenv, err)
			}
			zerolog.Ctx(ctx).Debug().Str("path", dotenv).Int("vars", len(values)).Msg("loaded dotenv")
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides cfg with FAMIGRATE_* variables.
func (cfg *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	str("SOURCE", &cfg.Source)
	str("DESTINATION", &cfg.Destination)
	str("LOG_DIR", &cfg.LogDir)
	str("EXTENSION", &cfg.Extension)
	str("METRICS_FILE", &cfg.MetricsFile)

	if v, ok := lookup(EnvPrefix + "FAIL_FAST"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Errorf("parsing %sFAIL_FAST: %w", EnvPrefix, err)
		}
		cfg.FailFast = b
	}

	if v, ok := lookup(EnvPrefix + "IGNORE"); ok && v != "" {
		cfg.Ignore = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Ignore = append(cfg.Ignore, p)
			}
		}
	}

	if v, ok := lookup(EnvPrefix + "ENGINE"); ok && v != "" {
		if cfg.Engine == nil {
			cfg.Engine = &EngineConfig{}
		}
		cfg.Engine.Kind = v
	}

	return nil
}
