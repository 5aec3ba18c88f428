package main

import (
	"strings"
	"testing"

	"github.com/steveyegge/watercooler/internal/config"
)

func envMap(t *testing.T, env []string) map[string]string {
	t.Helper()
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			t.Fatalf("malformed env entry %q", kv)
		}
		m[k] = v
	}
	return m
}

func TestStageEnvCarriesResolvedSettings(t *testing.T) {
	t.Setenv("LLM_API_BASE", "https://llm.example/v1")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("LLM_API_KEY", "")

	cfg := &config.Config{}
	cfg.LLM.Model = "deepseek-chat"
	cfg.Embedding.BaseURL = "https://embed.example/v1"
	cfg.Embedding.Model = "text-embedding-3-small"
	cfg.Embedding.BatchSize = 16
	creds := &config.Credentials{
		OpenAIAPIKey:    "sk-test-abcdefghij0123456789",
		EmbeddingAPIKey: "ek-test",
	}

	m := envMap(t, stageEnv(cfg, creds))
	want := map[string]string{
		"LLM_API_BASE":         "https://llm.example/v1",
		"LLM_MODEL":            "deepseek-chat",
		"LLM_API_KEY":          "sk-test-abcdefghij0123456789",
		"EMBEDDING_API_BASE":   "https://embed.example/v1",
		"EMBEDDING_MODEL":      "text-embedding-3-small",
		"EMBEDDING_BATCH_SIZE": "16",
		"EMBEDDING_API_KEY":    "ek-test",
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %q, want %q", k, m[k], v)
		}
	}
}

func TestStageEnvOmitsUnsetSettings(t *testing.T) {
	t.Setenv("LLM_API_BASE", "")
	t.Setenv("LLM_MODEL", "")
	t.Setenv("LLM_API_KEY", "")

	m := envMap(t, stageEnv(&config.Config{}, &config.Credentials{}))
	if len(m) != 0 {
		t.Errorf("env = %v, want empty when nothing is configured", m)
	}
}
