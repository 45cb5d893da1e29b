// Package config loads dataservd's optional YAML configuration file and
// applies an environment-variable overlay, grounded on
// docker/distribution's configuration.Configuration (YAML-tagged struct)
// and its parser.go env-overlay convention: "v.Abc may be replaced by
// PREFIX_ABC, v.Abc.Xyz by PREFIX_ABC_XYZ", simplified here since
// dataservd's config has no maps or versioning to support.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/nspyre-project/dataservd/internal/wire"
)

// envPrefix is the prefix for every environment-variable override, e.g.
// DATASERVD_PORT, DATASERVD_POLICY_QUEUESIZE.
const envPrefix = "DATASERVD"

// LogConfig configures internal/dlog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Duration is a time.Duration that unmarshals from a Go duration string
// ("3s", "500ms") instead of requiring raw nanoseconds, the way
// docker/distribution's Version and Loglevel types implement
// yaml.Unmarshaler for their own string-with-validation fields.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface, parsing a
// duration string with time.ParseDuration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// PolicyConfig is the YAML-facing mirror of wire.Policy; see
// SPEC_FULL.md section 4.6.
type PolicyConfig struct {
	KeepAliveTimeout Duration `yaml:"keepalivetimeout"`
	OpsTimeout       Duration `yaml:"opstimeout"`
	Timeout          Duration `yaml:"timeout"`
	QueueSize        int      `yaml:"queuesize"`
	MaxPayloadSize   int64    `yaml:"maxpayloadsize"`
}

// ToPolicy converts the configured values into a wire.Policy.
func (p PolicyConfig) ToPolicy() wire.Policy {
	return wire.Policy{
		KeepAliveTimeout:   time.Duration(p.KeepAliveTimeout),
		OpsTimeout:         time.Duration(p.OpsTimeout),
		Timeout:            time.Duration(p.Timeout),
		NegotiationTimeout: time.Duration(p.Timeout),
		QueueSize:          p.QueueSize,
		HeaderLen:          8,
		MaxPayloadSize:     p.MaxPayloadSize,
	}
}

// Config is dataservd's full configuration, intended to be provided by
// an optional yaml file and overridable by DATASERVD_* environment
// variables. Yaml field names never include '_', since that's the
// environment-variable path separator.
type Config struct {
	Port     int           `yaml:"port"`
	BindHost string        `yaml:"bindhost"`
	Log      LogConfig     `yaml:"log"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Policy   PolicyConfig  `yaml:"policy"`
}

// Default returns dataservd's built-in defaults: port 30000 (spec
// section 6), loopback bind, text logging at info, metrics disabled,
// and the policy from wire.DefaultPolicy.
func Default() *Config {
	p := wire.DefaultPolicy()
	return &Config{
		Port:     30000,
		BindHost: "127.0.0.1",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9100",
		},
		Policy: PolicyConfig{
			KeepAliveTimeout: Duration(p.KeepAliveTimeout),
			OpsTimeout:       Duration(p.OpsTimeout),
			Timeout:          Duration(p.Timeout),
			QueueSize:        p.QueueSize,
			MaxPayloadSize:   p.MaxPayloadSize,
		},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults,
// applies the DATASERVD_* environment overlay, and validates the
// resulting policy.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	overlayEnv(cfg, envPrefix)

	if err := cfg.Policy.ToPolicy().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayEnv walks cfg's fields by reflection, overriding any whose
// upper-cased, '_'-joined field path matches a set environment variable.
// Mirrors docker/distribution's Parser.overwriteFields, trimmed of the
// map and config-version handling dataservd's Config doesn't need.
func overlayEnv(cfg interface{}, prefix string) {
	v := reflect.ValueOf(cfg)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	overlayFields(v, prefix)
}

func overlayFields(v reflect.Value, prefix string) {
	if v.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldPrefix := strings.ToUpper(prefix + "_" + v.Type().Field(i).Name)

		if env, ok := os.LookupEnv(fieldPrefix); ok && field.CanSet() {
			parsed := reflect.New(field.Type())
			if err := yaml.Unmarshal([]byte(env), parsed.Interface()); err == nil {
				field.Set(parsed.Elem())
				continue
			}
		}
		overlayFields(field, fieldPrefix)
	}
}
