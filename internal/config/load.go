package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Load reads a config file (YAML or JSON, by extension) with strict key
// checking, so a typoed knob fails loudly instead of silently using a
// default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s (%s): %w", path, format, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields that cannot wait until first use.
func (c *Config) Validate() error {
	durations := []struct {
		path string
		raw  string
	}{
		{"tester.timeout", c.Tester.Timeout},
		{"tester.http_timeout", c.Tester.HTTPTimeout},
		{"tester.udp_timeout", c.Tester.UDPTimeout},
		{"tester.max_udp_latency", c.Tester.MaxUDPLatency},
		{"tester.max_http_latency", c.Tester.MaxHTTPLatency},
		{"tester.min_ip_interval", c.Tester.MinIPInterval},
		{"fetcher.timeout", c.Fetcher.Timeout},
		{"watch.debounce", c.Watch.Debounce},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Tester.Concurrency < 0 {
		return fmt.Errorf("tester.concurrency: must be >= 0")
	}
	if c.Tester.MaxAttempts < 0 {
		return fmt.Errorf("tester.max_attempts: must be >= 0")
	}
	if c.Notify.Enabled && strings.TrimSpace(c.Notify.Token) == "" {
		return fmt.Errorf("notify.token: required when notify.enabled")
	}
	if c.Notify.Enabled && c.Notify.ChatID == 0 {
		return fmt.Errorf("notify.chat_id: required when notify.enabled")
	}
	if len(c.Paths.Sources) == 0 && strings.TrimSpace(c.Paths.SourcesFile) == "" {
		return fmt.Errorf("paths.sources: at least one source (or sources_file) is required")
	}
	return nil
}

// ParseDurationField parses a Go duration string, treating "" as zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// omitted/zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// MustDuration is for fields Validate has already checked.
func MustDuration(raw string) time.Duration {
	d, _ := ParseDurationField("", raw)
	return d
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict JSON
// decoder (DisallowUnknownFields) serves both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
