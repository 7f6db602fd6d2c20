package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Loaded is a resolved configuration and where it came from.
type Loaded struct {
	*Config
	// File is the config file that was read, or "" if none.
	File string

	set map[string]bool
}

// IsSet reports whether key was given by the config file, the environment
// or a changed flag rather than taken from the defaults.
func (l *Loaded) IsSet(key string) bool {
	return l.set[key]
}

// findConfigFile finds the config file to use.
// Priority: explicit path > detectnumber.yaml > detectnumber.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range ConfigFileNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load loads configuration from defaults, file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
// Only flags the user changed take part; flag names map to keys by
// replacing dashes with underscores.
func Load(cfgFile string, flags *pflag.FlagSet) (*Loaded, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Everything above the defaults goes into its own layer so Loaded can
	// tell explicit values from defaults.
	over := koanf.New(".")

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := over.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment variables (DETECTNUMBER_ prefix)
	// Transform: DETECTNUMBER_BATCH_SIZE -> batch_size
	if err := over.Load(env.Provider(DefaultEnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, DefaultEnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := over.Load(posflag.ProviderWithFlag(flags, ".", over, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaultsMap()[key]; !known {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := k.Merge(over); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	set := make(map[string]bool)
	for _, key := range over.Keys() {
		set[key] = true
	}

	// 5. Decode. Comma-separated strings from env vars become lists.
	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           cfg,
			TagName:          "koanf",
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Optimizer = strings.ToLower(strings.TrimSpace(cfg.Optimizer))
	for i, f := range cfg.Formats {
		cfg.Formats[i] = strings.ToLower(strings.TrimSpace(f))
	}

	return &Loaded{Config: cfg, File: used, set: set}, nil
}
