package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/pkg/types"
)

// claudeConfig is the subset of ~/.claude.json the server reads.
type claudeConfig struct {
	MCPServers types.MCPServers `json:"mcpServers"`
	Projects   map[string]struct {
		MCPServers types.MCPServers `json:"mcpServers"`
	} `json:"claudeProjects"`
}

// LoadMCPServers reads MCP server configurations from ~/.claude.json,
// merging the global set with any project-specific servers for cwd.
// The configs are opaque here; they pass straight through to the
// engine. Returns nil when nothing is configured; never fails a stream.
func LoadMCPServers(cwd string) types.MCPServers {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	path := filepath.Join(home, ".claude.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("path", path).Msg("failed to read MCP config")
		}
		return nil
	}

	var cfg claudeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("failed to parse MCP config")
		return nil
	}

	servers := make(types.MCPServers)
	for name, raw := range cfg.MCPServers {
		servers[name] = raw
	}

	if cwd != "" {
		if project, ok := cfg.Projects[cwd]; ok {
			for name, raw := range project.MCPServers {
				servers[name] = raw
			}
		}
	}

	if len(servers) == 0 {
		return nil
	}

	logging.Debug().Int("count", len(servers)).Msg("loaded MCP servers")
	return servers
}
