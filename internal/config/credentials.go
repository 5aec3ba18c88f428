package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Credentials holds the secrets the pipeline may need. They are read from
// ~/.watercooler/credentials.toml with environment variables taking
// precedence, and must never be written to the project config file.
type Credentials struct {
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	EmbeddingAPIKey string `toml:"embedding_api_key"`
	FalkorDBAddr    string `toml:"falkordb_addr"`
}

// CredentialsPath returns the default credentials file location.
func CredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".watercooler", "credentials.toml"), nil
}

// LoadCredentials reads the TOML credentials file at path (empty uses the
// default location) and overlays environment variables. A missing file
// yields env-only credentials.
func LoadCredentials(path string) (*Credentials, error) {
	if path == "" {
		var err error
		path, err = CredentialsPath()
		if err != nil {
			return nil, err
		}
	}

	var creds Credentials
	if info, err := os.Stat(path); err == nil {
		if info.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("credentials file %s is group or world readable; chmod 600 it", path)
		}
		if _, err := toml.DecodeFile(path, &creds); err != nil {
			return nil, fmt.Errorf("parse credentials file: %w", err)
		}
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		creds.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		creds.OpenAIAPIKey = v
	}
	if v := os.Getenv("WC_EMBEDDING_API_KEY"); v != "" {
		creds.EmbeddingAPIKey = v
	}
	if v := os.Getenv("FALKORDB_ADDR"); v != "" {
		creds.FalkorDBAddr = v
	}
	return &creds, nil
}
