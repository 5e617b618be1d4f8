// Package config provides configuration loading and path management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// Config holds the server configuration.
type Config struct {
	Port     int    `json:"port,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`

	// ApprovalTimeoutMS bounds how long a tool call waits for a client
	// decision. Kept under the engine's own 60s control timeout.
	ApprovalTimeoutMS int `json:"approvalTimeoutMs,omitempty"`

	// TokenBudget is the soft context ceiling reported with usage
	// events. A client-side budget, not the model's context window.
	TokenBudget int `json:"tokenBudget,omitempty"`

	// Model is the default model when the caller names none.
	Model string `json:"model,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:              8080,
		Hostname:          "127.0.0.1",
		LogLevel:          "INFO",
		ApprovalTimeoutMS: 55000,
		TokenBudget:       160000,
		Model:             "sonnet",
	}
}

// ApprovalTimeout returns the approval timeout as a duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutMS) * time.Millisecond
}

// Load loads configuration from multiple sources (later wins):
//  1. Built-in defaults
//  2. Global config (~/.coderelay/)
//  3. XDG global config (~/.config/coderelay/)
//  4. Project config (<directory>/.coderelay/)
//  5. CODERELAY_CONFIG file
//  6. Environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		if loadConfigFile(path, config) == nil {
			loaded[absPath] = true
		}
	}

	if home := os.Getenv("HOME"); home != "" {
		homeDir := filepath.Join(home, ".coderelay")
		loadOnce(filepath.Join(homeDir, "coderelay.json"))
		loadOnce(filepath.Join(homeDir, "coderelay.jsonc"))
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "coderelay.json"))
	loadOnce(filepath.Join(globalPath, "coderelay.jsonc"))

	if directory != "" {
		projectDir := filepath.Join(directory, ".coderelay")
		loadOnce(filepath.Join(projectDir, "coderelay.json"))
		loadOnce(filepath.Join(projectDir, "coderelay.jsonc"))
	}

	if configPath := os.Getenv("CODERELAY_CONFIG"); configPath != "" {
		loadOnce(configPath)
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile merges one JSONC config file into config.
func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = jsonc.ToJSON(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// mergeConfig overlays non-zero fields of src onto dst.
func mergeConfig(dst, src *Config) {
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.ApprovalTimeoutMS != 0 {
		dst.ApprovalTimeoutMS = src.ApprovalTimeoutMS
	}
	if src.TokenBudget != 0 {
		dst.TokenBudget = src.TokenBudget
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
}

// applyEnvOverrides applies environment variables, the highest
// priority source. CONTEXT_WINDOW is honored for compatibility with
// existing deployments.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CODERELAY_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if n, ok := envInt("PORT"); ok {
		config.Port = n
	}
	if n, ok := envInt("CODERELAY_TOOL_APPROVAL_TIMEOUT_MS"); ok {
		config.ApprovalTimeoutMS = n
	}
	if n, ok := envInt("CONTEXT_WINDOW"); ok {
		config.TokenBudget = n
	}
	if n, ok := envInt("CODERELAY_TOKEN_BUDGET"); ok {
		config.TokenBudget = n
	}
	if v := os.Getenv("CODERELAY_MODEL"); v != "" {
		config.Model = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
