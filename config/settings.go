package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tracekit/tracekit/log"
)

// EnvPrefix prefixes every environment override, TRACEKIT_OUTPUT_DIRECTORY
// sets --output-directory.
const EnvPrefix = "TRACEKIT"

// SettingsFlag names the flag pointing at an optional settings file.
const SettingsFlag = "settings"

// Settings resolves option values from, in decreasing priority, command line
// flags, TRACEKIT_* environment variables, the settings file and the flag
// defaults.
type Settings struct {
	v *viper.Viper
}

// NewSettings binds flags and reads the settings file named by --settings,
// when one is given.
func NewSettings(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, log.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString(SettingsFlag); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, invalidf("failed to read settings %s: %v", path, err)
		}
		log.Tracef("Loaded settings from %s", v.ConfigFileUsed())
	}
	return &Settings{v: v}, nil
}

// Decode fills out, a pointer to a struct with mapstructure tags named after
// the flags.
func (s *Settings) Decode(out any) error {
	if err := s.v.Unmarshal(out); err != nil {
		return invalidf("failed to decode settings: %v", err)
	}
	return nil
}

// ToolPaths returns the configured location of each named tool, read from
// tools.<name>. Tools without an override are left out.
func (s *Settings) ToolPaths(names ...string) map[string]string {
	paths := make(map[string]string)
	for _, name := range names {
		if p := s.v.GetString("tools." + name); p != "" {
			paths[name] = p
		}
	}
	return paths
}
