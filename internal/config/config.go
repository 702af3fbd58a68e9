// Package config loads and validates the engine's process-wide
// configuration: a YAML file plus environment variable overrides, laid
// out for the rule-file/model-file/sink/lookup schema this engine's
// components need.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ssw-labs/flowcore/internal/dispatch"
	"github.com/ssw-labs/flowcore/internal/harness"
	"github.com/ssw-labs/flowcore/internal/httpapi"
	"github.com/ssw-labs/flowcore/internal/reload"
	"github.com/ssw-labs/flowcore/internal/sinkrt"
	"github.com/ssw-labs/flowcore/internal/sources"
	"github.com/ssw-labs/flowcore/internal/tracing"
	"github.com/ssw-labs/flowcore/pkg/apperr"
	"github.com/ssw-labs/flowcore/pkg/lookup"
)

// SourcesConfig names the event producers cmd/flowcore starts alongside
// the harness.
type SourcesConfig struct {
	Files      []sources.FileSourceConfig      `yaml:"files"`
	Containers []sources.ContainerSourceConfig `yaml:"containers"`
}

// AppConfig identifies the running process for logs and health checks.
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SinkConfig describes one named sink: its runtime batching policy plus
// a transport kind/params pair resolved by cmd/flowcore into a concrete
// sinks.KafkaTransport / FileTransport / HTTPTransport. Params is kept as
// a raw map rather than one struct per transport kind, since the set of
// transports is open-ended (plugins may add more); DecodeTransport
// round-trips it through YAML into whichever concrete *Config a transport
// constructor expects.
type SinkConfig struct {
	Runtime   sinkrt.Config          `yaml:"runtime"`
	Transport string                 `yaml:"transport"`
	Params    map[string]interface{} `yaml:"params"`
}

// DecodeTransport re-marshals sc.Params into dst, a pointer to one of
// sinks.FileConfig / sinks.HTTPConfig / sinks.KafkaConfig.
func (sc SinkConfig) DecodeTransport(dst interface{}) error {
	raw, err := yaml.Marshal(sc.Params)
	if err != nil {
		return apperr.Compile("config", "decode_transport", "failed to re-marshal sink params").Wrap(err)
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return apperr.Compile("config", "decode_transport", "failed to decode sink params").Wrap(err)
	}
	return nil
}

// RulesConfig names the PDL/MDL source files the engine compiles at
// startup.
type RulesConfig struct {
	PDLFiles []string `yaml:"pdl_files"`
	MDLFiles []string `yaml:"mdl_files"`
}

// SinkGroupConfig is one named sink group: the sinks it feeds, which
// compiled models' rule pattern it applies to ("*" = every model), and the
// oml (output-model-list) filter controlling which matched models' output
// records reach it — ["*"] = all matches, ["name",...] = explicit,
// [] = pass-through.
type SinkGroupConfig struct {
	Name        string   `yaml:"name"`
	Sinks       []string `yaml:"sinks"`
	RulePattern string   `yaml:"rule_pattern"`
	OML         []string `yaml:"oml"`
}

// Config is the engine's full process configuration.
type Config struct {
	App     AppConfig             `yaml:"app"`
	HTTP    httpapi.Config        `yaml:"http"`
	Harness harness.Config        `yaml:"harness"`
	Rules   RulesConfig           `yaml:"rules"`
	Reload  reload.Config         `yaml:"reload"`
	Sources SourcesConfig         `yaml:"sources"`
	Groups  []SinkGroupConfig     `yaml:"groups"`
	Sinks   map[string]SinkConfig `yaml:"sinks"`
	Lookup  lookup.RedisConfig    `yaml:"lookup"`
	Tracing tracing.Config        `yaml:"tracing"`
	Miss    dispatch.MissConfig   `yaml:"miss"`
	loaded  bool
}

// Load reads configFile (if non-empty) and layers environment variable
// overrides on top, in two distinct stages so either one alone is enough
// to produce a usable config.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			return nil, apperr.Compile("config", "load", "failed to load config file "+configFile).Wrap(err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.loaded = true
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "flowcore"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "v1.0.0"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.Sinks == nil {
		cfg.Sinks = map[string]SinkConfig{}
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.App.Name = getEnvString("FLOWCORE_APP_NAME", cfg.App.Name)
	cfg.App.Environment = getEnvString("FLOWCORE_ENV", cfg.App.Environment)
	cfg.HTTP.Addr = getEnvString("FLOWCORE_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Harness.Workers = getEnvInt("FLOWCORE_WORKERS", cfg.Harness.Workers)
	cfg.Harness.QueueSize = getEnvInt("FLOWCORE_QUEUE_SIZE", cfg.Harness.QueueSize)
	cfg.Harness.DrainTimeout = getEnvDuration("FLOWCORE_DRAIN_TIMEOUT", cfg.Harness.DrainTimeout)
	cfg.Tracing.Enabled = getEnvBool("FLOWCORE_TRACING_ENABLED", cfg.Tracing.Enabled)
	if addrs := getEnvStringSlice("FLOWCORE_LOOKUP_ADDRS", nil); len(addrs) > 0 {
		cfg.Lookup.Addrs = addrs
	}
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.Split(v, ",")
}

// Validator accumulates every validation error found, so a misconfigured
// process reports all of its problems at once rather than failing on the
// first.
type Validator struct {
	cfg    *Config
	errors []string
}

// Validate runs every section check and returns a single apperr.Compile
// wrapping every message found, or nil if the config is well-formed.
func Validate(cfg *Config) error {
	v := &Validator{cfg: cfg}
	v.validateApp()
	v.validateHTTP()
	v.validateRules()
	v.validateSinks()
	v.validateGroups()
	if len(v.errors) > 0 {
		return apperr.Compile("config", "validate", strings.Join(v.errors, "; "))
	}
	return nil
}

func (v *Validator) addf(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *Validator) validateApp() {
	if v.cfg.App.Name == "" {
		v.addf("app.name must not be empty")
	}
}

func (v *Validator) validateHTTP() {
	if v.cfg.HTTP.Addr != "" && !strings.Contains(v.cfg.HTTP.Addr, ":") {
		v.addf("http.addr must include a port")
	}
}

func (v *Validator) validateRules() {
	if len(v.cfg.Rules.PDLFiles) == 0 {
		v.addf("rules.pdl_files must name at least one PDL source file")
	}
}

func (v *Validator) validateSinks() {
	for name, sink := range v.cfg.Sinks {
		switch sink.Transport {
		case "kafka", "file", "http":
		default:
			v.addf("sinks.%s: unknown transport %q", name, sink.Transport)
		}
	}
}

func (v *Validator) validateGroups() {
	for _, g := range v.cfg.Groups {
		if g.Name == "" {
			v.addf("groups: entry with empty name")
			continue
		}
		for _, s := range g.Sinks {
			if _, ok := v.cfg.Sinks[s]; !ok {
				v.addf("groups.%s: references unknown sink %q", g.Name, s)
			}
		}
	}
}
