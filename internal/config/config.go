package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root configuration for tokt, stored in ~/.tokt/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	API APIConfig `json:"api"`
	// Timezone is the IANA timezone used to interpret slot boundaries
	// (e.g. "Asia/Kolkata"). Empty = system local time.
	Timezone string `json:"timezone"`
}

// APIConfig holds remote service settings.
type APIConfig struct {
	// BaseURL is the root of the token-data REST API.
	BaseURL string `json:"base_url"`
}

// DefaultBaseURL is the development default; override in the config file or
// with the TOKT_API_URL environment variable.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// EnvBaseURL is the single environment override recognised by tokt.
const EnvBaseURL = "TOKT_API_URL"

func defaultConfig() Config {
	return Config{API: APIConfig{BaseURL: DefaultBaseURL}}
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// tokt configuration – ~/.tokt/config.json
//
// All settings are optional; the defaults shown below work against a local
// development server. Edit this file to customise tokt behaviour.
{
  "api": {
    // Root URL of the token-data REST API.
    // Can also be set with the TOKT_API_URL environment variable,
    // which takes precedence over this file.
    "base_url": "http://localhost:8000/api/v1"
  },

  // IANA timezone used to interpret slot boundaries, e.g. "Asia/Kolkata".
  // Leave empty to use the system local time.
  "timezone": ""
}
`

// configFilePath returns the path to ~/.tokt/config.json.
func configFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tokt", "config.json"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads ~/.tokt/config.json, creating it with annotated defaults on
// first run, then applies the TOKT_API_URL override.
func Load() (Config, error) {
	path, err := configFilePath()
	if err != nil {
		return defaultConfig(), err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if env := os.Getenv(EnvBaseURL); env != "" {
		cfg.API.BaseURL = env
	}
	return cfg, nil
}

// LoadFile reads a config file at an explicit path. Lines starting with //
// are treated as comments and stripped before JSON parsing. Zero-value
// fields are filled with built-in defaults so callers always get a usable
// Config even if the user only partially fills in the file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		return defaultConfig(), nil
	}
	if err != nil {
		return defaultConfig(), fmt.Errorf("reading config file %s: %w", path, err)
	}

	cleaned := stripLineComments(data)
	var cfg Config
	if err := json.Unmarshal(cleaned, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	return cfg, nil
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
