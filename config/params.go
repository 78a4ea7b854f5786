// Package config provides parameter resolution and tool-server configuration
// for dbworkflow. Parameters resolve hierarchically (process environment,
// then an optional .env file, then an optional secrets file); tool-server
// definitions load from a JSON document with environment substitution.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Sentinel errors for configuration failures. Both are fatal: the driver
// maps them to exit code 1.
var (
	ErrMissingParameter = errors.New("missing required parameter")
	ErrMalformedConfig  = errors.New("malformed configuration")
)

// IsConfigurationError reports whether err is a fatal configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrMissingParameter) || errors.Is(err, ErrMalformedConfig)
}

// secretSuffixes mark parameter names whose values are redacted in logs even
// when they did not come from the secrets file.
var secretSuffixes = []string{"_TOKEN", "_SECRET", "_KEY", "_PASSWORD"}

// Params resolves named parameters from the process environment, an optional
// .env-style file, and an optional JSON secrets file. Lookup precedence is
// environment first, then .env, then secrets.
type Params struct {
	envFile     map[string]string
	secrets     map[string]string
	secretNames map[string]bool
	logger      *slog.Logger
}

// ParamsOption configures parameter loading.
type ParamsOption func(*paramsOptions)

type paramsOptions struct {
	envFile     string
	secretsFile string
	logger      *slog.Logger
}

// WithEnvFile points the resolver at a .env-style file. A missing file is
// not an error; a malformed one is.
func WithEnvFile(path string) ParamsOption {
	return func(o *paramsOptions) { o.envFile = path }
}

// WithSecretsFile points the resolver at a JSON secrets file (flat string
// map). Every name in the file is treated as a secret.
func WithSecretsFile(path string) ParamsOption {
	return func(o *paramsOptions) { o.secretsFile = path }
}

// WithParamsLogger sets the logger used during loading.
func WithParamsLogger(logger *slog.Logger) ParamsOption {
	return func(o *paramsOptions) { o.logger = logger }
}

// LoadParams builds a Params resolver from the configured sources.
func LoadParams(opts ...ParamsOption) (*Params, error) {
	options := &paramsOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	p := &Params{
		envFile:     map[string]string{},
		secrets:     map[string]string{},
		secretNames: map[string]bool{},
		logger:      options.logger,
	}

	if options.envFile != "" {
		data, err := os.ReadFile(options.envFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read env file: %w", err)
			}
			p.logger.Debug("Env file not found, skipping", "path", options.envFile)
		} else {
			entries, err := parseEnvFile(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedConfig, options.envFile, err)
			}
			p.envFile = entries
			p.logger.Debug("Loaded env file", "path", options.envFile, "entries", len(entries))
		}
	}

	if options.secretsFile != "" {
		data, err := os.ReadFile(options.secretsFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
			p.logger.Debug("Secrets file not found, skipping", "path", options.secretsFile)
		} else {
			var secrets map[string]string
			if err := json.Unmarshal(data, &secrets); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrMalformedConfig, options.secretsFile, err)
			}
			p.secrets = secrets
			for name := range secrets {
				p.secretNames[name] = true
			}
			p.logger.Debug("Loaded secrets file", "path", options.secretsFile, "entries", len(secrets))
		}
	}

	return p, nil
}

// Get resolves a parameter by name. The boolean is false when the name is
// absent from every source.
func (p *Params) Get(name string) (string, bool) {
	if value, ok := os.LookupEnv(name); ok {
		return value, true
	}
	if value, ok := p.envFile[name]; ok {
		return value, true
	}
	if value, ok := p.secrets[name]; ok {
		return value, true
	}
	return "", false
}

// Require resolves a parameter that must be present.
func (p *Params) Require(name string) (string, error) {
	value, ok := p.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
	}
	return value, nil
}

// IsSecret reports whether the named parameter must be redacted in logs.
func (p *Params) IsSecret(name string) bool {
	if p.secretNames[name] {
		return true
	}
	upper := strings.ToUpper(name)
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// SecretValues returns the resolved values of every known secret parameter,
// for sink-level masking. Order is unspecified.
func (p *Params) SecretValues() []string {
	seen := map[string]bool{}
	var values []string
	for name := range p.secretNames {
		if value, ok := p.Get(name); ok && value != "" && !seen[value] {
			seen[value] = true
			values = append(values, value)
		}
	}
	return values
}

// Redact elides a secret value, keeping the first and last four characters.
func Redact(value string) string {
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// ParameterConfig is an immutable snapshot of resolved parameters taken at
// workflow start. All components read it; nothing writes it after creation.
type ParameterConfig struct {
	values  map[string]string
	secrets map[string]bool
}

// Snapshot resolves every required name and every optional name (falling
// back to its default) into an immutable ParameterConfig. All missing
// required names are reported together.
func (p *Params) Snapshot(required []string, optional map[string]string) (*ParameterConfig, error) {
	pc := &ParameterConfig{
		values:  map[string]string{},
		secrets: map[string]bool{},
	}

	var missing []string
	for _, name := range required {
		value, ok := p.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		pc.values[name] = value
		pc.secrets[name] = p.IsSecret(name)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}

	for name, fallback := range optional {
		value, ok := p.Get(name)
		if !ok {
			value = fallback
		}
		pc.values[name] = value
		pc.secrets[name] = p.IsSecret(name)
	}

	return pc, nil
}

// Get returns the snapshot value for name, empty when absent.
func (pc *ParameterConfig) Get(name string) string {
	return pc.values[name]
}

// Has reports whether the snapshot holds a non-empty value for name.
func (pc *ParameterConfig) Has(name string) bool {
	return pc.values[name] != ""
}

// IsSecret reports whether the named value requires redaction.
func (pc *ParameterConfig) IsSecret(name string) bool {
	return pc.secrets[name]
}

// Names returns all parameter names in sorted order.
func (pc *ParameterConfig) Names() []string {
	names := make([]string, 0, len(pc.values))
	for name := range pc.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of parameters in the snapshot.
func (pc *ParameterConfig) Len() int {
	return len(pc.values)
}

// SecretCount returns the number of secret parameters in the snapshot.
func (pc *ParameterConfig) SecretCount() int {
	n := 0
	for _, isSecret := range pc.secrets {
		if isSecret {
			n++
		}
	}
	return n
}

// Redacted returns the snapshot as a map safe for logging: secret values are
// elided, everything else passes through.
func (pc *ParameterConfig) Redacted() map[string]string {
	out := make(map[string]string, len(pc.values))
	for name, value := range pc.values {
		if pc.secrets[name] {
			out[name] = Redact(value)
		} else {
			out[name] = value
		}
	}
	return out
}

// parseEnvFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped, a leading "export " is tolerated, matching quotes are stripped.
func parseEnvFile(data []byte) (map[string]string, error) {
	entries := map[string]string{}
	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		trimmed = strings.TrimPrefix(trimmed, "export ")

		key, value, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE", i+1)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", i+1)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		entries[key] = value
	}
	return entries, nil
}
