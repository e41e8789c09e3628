package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config holds settings addressed by dotted key. Nested maps are flattened on load, so
// the YAML document
//
//	gate:
//	  on_branch:
//	    keep_io: true
//
// sets "gate.on_branch.keep_io".
type Config struct {
	mu       sync.RWMutex
	values   map[string]any
	readOnly bool
}

// Defaults returns the default value of every key read by the engine.
func Defaults() map[string]any {
	return map[string]any{
		domain.KeyKeepIO:               false,
		domain.KeyStopOnOffloadError:   false,
		domain.KeyStatusCheckFrequency: 1.0,
		domain.KeyMaxExecutionTime:     0.0,
		domain.KeyOffloadCommand:       []string{},
		domain.KeyHTTPAddress:          "127.0.0.1:9090",
		domain.KeyHTTPCommandSocket:    filepath.Join(os.TempDir(), "flows-server.cmd.sock"),
		domain.KeyHTTPReadTimeout:      30.0,
		domain.KeyLogLevel:             "info",
		domain.KeyLogFormat:            "text",
	}
}

// New creates a configuration holding the defaults.
func New() *Config {
	return &Config{values: Defaults()}
}

// Load reads a YAML (or JSON, by extension) file over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var doc map[string]any
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.Merge(doc); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge flattens m into dotted keys and stores them.
func (c *Config) Merge(m map[string]any) error {
	flat := make(map[string]any)
	flatten("", m, flat)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readOnly {
		return domain.ErrReadOnlyConfig
	}
	for k, v := range flat {
		c.values[k] = v
	}
	return nil
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Set stores one value.
func (c *Config) Set(key string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readOnly {
		return fmt.Errorf("%w: %s", domain.ErrReadOnlyConfig, key)
	}
	c.values[key] = v
	return nil
}

// SetReadOnly freezes the configuration.
func (c *Config) SetReadOnly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readOnly = true
}

// Keys returns every key, sorted.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Config) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Config) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (c *Config) GetBool(key string) bool {
	v, _ := c.Get(key)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	case int:
		return b != 0
	default:
		return false
	}
}

func (c *Config) GetFloat(key string) float64 {
	v, _ := c.Get(key)
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case string:
		parsed, _ := strconv.ParseFloat(n, 64)
		return parsed
	default:
		return 0
	}
}

func (c *Config) GetStrings(key string) []string {
	v, _ := c.Get(key)
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return strings.Fields(s)
	default:
		return nil
	}
}

// Seconds reads a number of seconds as a duration.
func (c *Config) Seconds(key string) time.Duration {
	return time.Duration(c.GetFloat(key) * float64(time.Second))
}

// Decode decodes the configuration tree into out, typically a *Settings.
func (c *Config) Decode(out any) error {
	tree, err := c.tree()
	if err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder: %w", err)
	}
	if err := dec.Decode(tree); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// tree rebuilds the nested form of the dotted keys.
func (c *Config) tree() (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	root := make(map[string]any)
	for key, v := range c.values {
		parts := strings.Split(key, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part]
			if !ok {
				child := make(map[string]any)
				node[part] = child
				node = child
				continue
			}
			child, ok := next.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("config key %s conflicts with a value at %s", key, part)
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return root, nil
}
