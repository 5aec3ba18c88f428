package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "null", cfg.Backend)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 512, cfg.Chunk.MaxTokens)
	assert.Equal(t, 64, cfg.Chunk.Overlap)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
}

func TestLoadProjectFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
threads_dir: /data/threads
backend: leanrag
max_concurrent: 8
chunk:
  max_tokens: 256
stages:
  extract: ["python3", "extract_triples.py"]
backend_opts:
  work_dir: /data/work
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watercooler.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/data/threads", cfg.ThreadsDir)
	assert.Equal(t, "leanrag", cfg.Backend)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 256, cfg.Chunk.MaxTokens, "file value overrides default")
	assert.Equal(t, 64, cfg.Chunk.Overlap, "default preserved for unset key")
	assert.Equal(t, []string{"python3", "extract_triples.py"}, cfg.Stages.Extract)
	assert.Equal(t, "/data/work", cfg.BackendOpts["work_dir"])
	assert.Equal(t, filepath.Join("/data/threads", ".wc"), cfg.WorkDir, "work_dir derived from threads_dir")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watercooler.yaml"), []byte("backend: leanrag\n"), 0o600))
	t.Setenv("WC_BACKEND", "graphiti")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "graphiti", cfg.Backend, "env wins over file")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watercooler.yaml"), []byte(":\n  - broken: ["), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	cfg.ThreadsDir = "/data/threads"
	assert.Empty(t, cfg.Validate())

	cfg.ThreadsDir = ""
	cfg.Chunk.Overlap = 999
	cfg.Embedding.BaseURL = "localhost:8080"
	issues := cfg.Validate()
	require.Len(t, issues, 3)
	joined := strings.Join(issues, "; ")
	assert.Contains(t, joined, "threads_dir")
	assert.Contains(t, joined, "chunk.overlap")
	assert.Contains(t, joined, "embedding.base_url")
}

func TestCredentialsFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	body := `
anthropic_api_key = "file-anthropic"
openai_api_key = "file-openai"
falkordb_addr = "db:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("WC_EMBEDDING_API_KEY", "")
	t.Setenv("FALKORDB_ADDR", "")

	creds, err := LoadCredentials(path)
	require.NoError(t, err)

	assert.Equal(t, "env-anthropic", creds.AnthropicAPIKey, "env wins over file")
	assert.Equal(t, "file-openai", creds.OpenAIAPIKey)
	assert.Equal(t, "db:6379", creds.FalkorDBAddr)
}

func TestCredentialsMissingFileIsEnvOnly(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-only")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("WC_EMBEDDING_API_KEY", "")
	t.Setenv("FALKORDB_ADDR", "")

	creds, err := LoadCredentials(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "env-only", creds.AnthropicAPIKey)
	assert.Empty(t, creds.OpenAIAPIKey)
}

func TestCredentialsRejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	require.NoError(t, os.WriteFile(path, []byte(`openai_api_key = "x"`), 0o644))

	_, err := LoadCredentials(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chmod 600")
}
