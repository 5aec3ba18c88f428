package main

import (
	"fmt"
	"os"

	"github.com/steveyegge/watercooler/internal/cache"
	"github.com/steveyegge/watercooler/internal/config"
	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/embed"
	"github.com/steveyegge/watercooler/internal/llm"
	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/telemetry"
)

// loadConfig resolves config plus flag overrides. Flags beat the file and
// environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if threadsDir != "" {
		cfg.ThreadsDir = threadsDir
	}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	if backendName != "" {
		cfg.Backend = backendName
	}
	if env := os.Getenv("WC_PIPELINE_WORK_DIR"); env != "" && workDir == "" {
		cfg.WorkDir = env
	}
	if cfg.WorkDir == "" && cfg.ThreadsDir != "" {
		cfg.WorkDir = cfg.ThreadsDir + "/.wc"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = os.Getenv("EMBEDDING_API_BASE")
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = os.Getenv("EMBEDDING_MODEL")
	}
	return cfg, nil
}

// openCache returns the shared summary/embedding cache, or nil with a
// warning when the cache directory cannot be created.
func openCache() *cache.Cache {
	c, err := cache.New(cache.DefaultDir())
	if err != nil {
		debug.Warnf("cache disabled: %v\n", err)
		return nil
	}
	return c
}

// buildSummarizer selects an LLM provider. WC_LLM_PROVIDER picks anthropic
// or openai explicitly; otherwise LLM_API_BASE implies the OpenAI-compatible
// client and no configuration at all means extractive-only summaries.
func buildSummarizer(cfg *config.Config, creds *config.Credentials, c *cache.Cache, stats *llm.CallStats) *llm.Summarizer {
	scfg := llm.DefaultSummarizerConfig()
	if cfg.LLM.MinBodyChars > 0 {
		scfg.MinBodyChars = cfg.LLM.MinBodyChars
	}

	var client llm.Client
	switch os.Getenv("WC_LLM_PROVIDER") {
	case "anthropic":
		ac, err := llm.NewAnthropicClient(creds.AnthropicAPIKey, cfg.LLM.Model, stats)
		if err != nil {
			debug.Warnf("anthropic client unavailable, using extractive summaries: %v\n", err)
		} else {
			client = ac
		}
	default:
		base := os.Getenv("LLM_API_BASE")
		if base == "" {
			debug.Logf("no LLM configured, summaries are extractive\n")
			break
		}
		model := cfg.LLM.Model
		if model == "" {
			model = os.Getenv("LLM_MODEL")
		}
		apiKey := os.Getenv("LLM_API_KEY")
		if apiKey == "" {
			apiKey = creds.OpenAIAPIKey
		}
		oc, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:   base,
			Model:     model,
			APIKey:    apiKey,
			MaxTokens: cfg.LLM.MaxTokens,
		}, stats)
		if err != nil {
			debug.Warnf("llm client unavailable, using extractive summaries: %v\n", err)
		} else {
			client = oc
		}
	}
	return llm.NewSummarizer(client, c, scfg)
}

// buildEmbedder returns nil when no embedding endpoint is configured;
// the pipeline then skips embeddings with a warning.
func buildEmbedder(cfg *config.Config, creds *config.Credentials, c *cache.Cache, stats *llm.CallStats) *embed.Embedder {
	if cfg.Embedding.BaseURL == "" {
		return nil
	}
	e, err := embed.New(embed.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		APIKey:    creds.EmbeddingAPIKey,
		BatchSize: cfg.Embedding.BatchSize,
	}, c, stats)
	if err != nil {
		debug.Warnf("embedder unavailable: %v\n", err)
		return nil
	}
	return e
}

// stageEnv builds the per-stage overrides handed to subprocess stages: the
// resolved LLM and embedding settings, so external tools see the same
// endpoints the orchestrator uses. Values may hold credentials and are never
// logged.
func stageEnv(cfg *config.Config, creds *config.Credentials) []string {
	var env []string
	add := func(k, v string) {
		if v != "" {
			env = append(env, k+"="+v)
		}
	}

	add("LLM_API_BASE", os.Getenv("LLM_API_BASE"))
	model := cfg.LLM.Model
	if model == "" {
		model = os.Getenv("LLM_MODEL")
	}
	add("LLM_MODEL", model)
	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		apiKey = creds.OpenAIAPIKey
	}
	add("LLM_API_KEY", apiKey)

	add("EMBEDDING_API_BASE", cfg.Embedding.BaseURL)
	add("EMBEDDING_MODEL", cfg.Embedding.Model)
	if cfg.Embedding.BatchSize > 0 {
		add("EMBEDDING_BATCH_SIZE", fmt.Sprintf("%d", cfg.Embedding.BatchSize))
	}
	add("EMBEDDING_API_KEY", creds.EmbeddingAPIKey)
	return env
}

// backendOptions merges configured backend options with credential-derived
// ones. Explicit options win.
func backendOptions(cfg *config.Config, creds *config.Credentials) map[string]string {
	opts := make(map[string]string, len(cfg.BackendOpts)+6)
	for k, v := range cfg.BackendOpts {
		opts[k] = v
	}
	setIfAbsent := func(k, v string) {
		if v != "" {
			if _, ok := opts[k]; !ok {
				opts[k] = v
			}
		}
	}
	setIfAbsent("work_dir", cfg.WorkDir)
	setIfAbsent("falkordb_addr", creds.FalkorDBAddr)
	setIfAbsent("openai_api_key", creds.OpenAIAPIKey)
	setIfAbsent("embedding_api_base", cfg.Embedding.BaseURL)
	setIfAbsent("embedding_model", cfg.Embedding.Model)
	setIfAbsent("embedding_api_key", creds.EmbeddingAPIKey)
	return opts
}

// openBackend resolves and opens the configured backend, instrumented when
// telemetry is enabled.
func openBackend(cfg *config.Config, creds *config.Credentials) (memory.Backend, error) {
	b, err := memory.Open(cfg.Backend, backendOptions(cfg, creds))
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}
	return telemetry.WrapBackend(b), nil
}
