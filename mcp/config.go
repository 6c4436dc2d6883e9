package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2606364644/sandbox-agent/config"
)

const (
	defaultStartTimeout = 30 * time.Second
	defaultRetryCount   = 3
)

// ServerConfig describes how to launch and supervise one MCP server. Configs
// are immutable once registered with a ServerManager; changing one requires
// unregistering the server first.
type ServerConfig struct {
	Name        string
	Command     []string
	Description string
	AutoStart   bool
	Timeout     time.Duration // per start attempt
	RetryCount  int
}

// withDefaults fills zero timeout and retry values.
func (c ServerConfig) withDefaults() ServerConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultStartTimeout
	}
	if c.RetryCount <= 0 {
		c.RetryCount = defaultRetryCount
	}
	return c
}

// Validate checks the config before registration.
func (c ServerConfig) Validate() error {
	v := config.NewValidator()
	v.RequireNonEmpty("name", c.Name)
	v.RequireNonEmptySlice("command", c.Command)
	return v.Error()
}

// configFile is the on-disk shape: a `servers` mapping of name to settings.
// Timeouts are stored as whole seconds, matching the historical format.
type configFile struct {
	Servers map[string]configEntry `yaml:"servers" json:"servers"`
}

type configEntry struct {
	Command     []string `yaml:"command" json:"command"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	AutoStart   bool     `yaml:"auto_start" json:"auto_start"`
	Timeout     int      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RetryCount  int      `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
}

// LoadConfigFile reads server configs from a YAML or JSON file. The format is
// chosen by extension; anything that is not .json is parsed as YAML.
func LoadConfigFile(path string) ([]ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcp: read config %s: %w", path, err)
	}

	var file configFile
	if isJSONPath(path) {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("mcp: parse config %s: %w", path, err)
	}

	names := make([]string, 0, len(file.Servers))
	for name := range file.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]ServerConfig, 0, len(names))
	for _, name := range names {
		entry := file.Servers[name]
		cfg := ServerConfig{
			Name:        name,
			Command:     entry.Command,
			Description: entry.Description,
			AutoStart:   entry.AutoStart,
			Timeout:     time.Duration(entry.Timeout) * time.Second,
			RetryCount:  entry.RetryCount,
		}.withDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("mcp: config %s: server %q: %w", path, name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// WriteConfigFile serializes server configs to a YAML or JSON file, creating
// parent directories as needed.
func WriteConfigFile(path string, configs []ServerConfig) error {
	file := configFile{Servers: make(map[string]configEntry, len(configs))}
	for _, cfg := range configs {
		cfg = cfg.withDefaults()
		file.Servers[cfg.Name] = configEntry{
			Command:     cfg.Command,
			Description: cfg.Description,
			AutoStart:   cfg.AutoStart,
			Timeout:     int(cfg.Timeout / time.Second),
			RetryCount:  cfg.RetryCount,
		}
	}

	var (
		data []byte
		err  error
	)
	if isJSONPath(path) {
		data, err = json.MarshalIndent(file, "", "  ")
	} else {
		data, err = yaml.Marshal(file)
	}
	if err != nil {
		return fmt.Errorf("mcp: encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mcp: create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("mcp: write config %s: %w", path, err)
	}
	return nil
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
