package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/ut330-logger/internal/ut330"
)

// Config holds the service configuration.
type Config struct {
	Device DeviceConfig `yaml:"device" json:"device"`
	Server ServerConfig `yaml:"server" json:"server"`
	Log    LogConfig    `yaml:"log" json:"log"`

	path string
}

type DeviceConfig struct {
	PortPath       string `yaml:"port_path" json:"portPath"` // empty: find by USB ID
	Demo           bool   `yaml:"demo" json:"demo"`          // use the simulator
	ReadTimeoutMs  int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms" json:"writeTimeoutMs"`
	MinIntervalMs  int    `yaml:"min_interval_ms" json:"minIntervalMs"`
}

type ServerConfig struct {
	ListenAddr     string `yaml:"listen_addr" json:"listenAddr"`
	PollIntervalMs int    `yaml:"poll_interval_ms" json:"pollIntervalMs"`
	// ConfigEvery is the number of live polls between two config reads.
	ConfigEvery int `yaml:"config_every" json:"configEvery"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // logrus level name
	Format string `yaml:"format" json:"format"` // "text" or "json"
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ReadTimeoutMs:  int(ut330.DefaultReadTimeout / time.Millisecond),
			WriteTimeoutMs: int(ut330.DefaultWriteTimeout / time.Millisecond),
			MinIntervalMs:  int(ut330.DefaultMinInterval / time.Millisecond),
		},
		Server: ServerConfig{
			ListenAddr:     ":8330",
			PollIntervalMs: 1000,
			ConfigEvery:    60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the YAML is missing or bad.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warnf("error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Infof("loaded config from %s", path)
	}

	// .env next to the config, then in CWD
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Debugf("loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: UT330_PORT, UT330_DEMO, UT330_READ_TIMEOUT_MS,
// UT330_WRITE_TIMEOUT_MS, LISTEN_ADDR, POLL_INTERVAL_MS, LOG_LEVEL, LOG_FORMAT
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("UT330_PORT"); v != "" {
		c.Device.PortPath = v
	}
	if v := os.Getenv("UT330_DEMO"); v != "" {
		c.Device.Demo = v == "1" || v == "true" || v == "yes"
	}
	envInt("UT330_READ_TIMEOUT_MS", &c.Device.ReadTimeoutMs)
	envInt("UT330_WRITE_TIMEOUT_MS", &c.Device.WriteTimeoutMs)
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	envInt("POLL_INTERVAL_MS", &c.Server.PollIntervalMs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

// ConnConfig converts the device section for ut330.New.
func (c *Config) ConnConfig() ut330.ConnConfig {
	return ut330.ConnConfig{
		PortPath:     c.Device.PortPath,
		ReadTimeout:  time.Duration(c.Device.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(c.Device.WriteTimeoutMs) * time.Millisecond,
		MinInterval:  time.Duration(c.Device.MinIntervalMs) * time.Millisecond,
	}
}

// PollInterval returns the live polling period, at least 100ms.
func (c *Config) PollInterval() time.Duration {
	d := time.Duration(c.Server.PollIntervalMs) * time.Millisecond
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// mergeJSON applies a partial JSON document to current and decodes the result
// into out. Fields missing from patch keep their current value.
func mergeJSON(current any, patch []byte, out any) error {
	currentBytes, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshal current: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current: %w", err)
	}

	var p map[string]interface{}
	if err := json.Unmarshal(patch, &p); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}
	deepMerge(base, p)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged: %w", err)
	}
	return json.Unmarshal(merged, out)
}

// deepMerge recursively merges src into dst. Nested maps are merged; any
// other value in src replaces the one in dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }
