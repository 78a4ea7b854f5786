package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// ServerNamePrefix is the naming convention for tool servers. Names outside
// the convention still load but are logged as suspicious.
const ServerNamePrefix = "ovr_"

// ServerConfig defines how to launch one tool server child process.
type ServerConfig struct {
	// Command is the executable to spawn.
	Command string `json:"command"`

	// Args are passed to the command verbatim.
	Args []string `json:"args"`

	// Env holds extra environment variables for the child. Values support
	// ${VAR} substitution from the parent environment at load time.
	Env map[string]string `json:"env"`
}

// serversFile is the on-disk document shape.
type serversFile struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// LoadServers reads a tool-server configuration file, expands ${VAR}
// references from the process environment, and validates every entry.
func LoadServers(path string, logger *slog.Logger) (map[string]ServerConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}

	expanded := ExpandEnv(string(data))

	var doc serversFile
	if err := json.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedConfig, path, err)
	}
	if len(doc.MCPServers) == 0 {
		return nil, fmt.Errorf("%w: %s: no servers under mcpServers", ErrMalformedConfig, path)
	}

	for name, server := range doc.MCPServers {
		if strings.TrimSpace(server.Command) == "" {
			return nil, fmt.Errorf("%w: server %s: command is required", ErrMalformedConfig, name)
		}
		if !strings.HasPrefix(name, ServerNamePrefix) {
			logger.Warn("Server name outside naming convention",
				"server", name,
				"expected_prefix", ServerNamePrefix)
		}
	}

	logger.Debug("Loaded tool-server configuration",
		"path", path,
		"servers", len(doc.MCPServers))

	return doc.MCPServers, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} references.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} references from the process environment.
// The ${VAR:-default} form falls back to the default when VAR is unset or
// empty. Unset variables without a default expand to the empty string.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, fallback := groups[1], groups[2] != "", groups[3]

		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasDefault {
			return fallback
		}
		return ""
	})
}
