package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/steveyegge/watercooler/internal/cache"
	"github.com/steveyegge/watercooler/internal/debug"
	"github.com/steveyegge/watercooler/internal/types"
)

// SummarizerConfig tunes prompt construction and fallback behavior.
type SummarizerConfig struct {
	// MinBodyChars: bodies shorter than this are returned verbatim with no
	// LLM call.
	MinBodyChars int
	// MaxBodyChars: bodies are truncated to this length before being
	// embedded in the prompt.
	MaxBodyChars int
	// FallbackChars bounds the extractive fallback summary.
	FallbackChars int
}

// DefaultSummarizerConfig returns the standard thresholds.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		MinBodyChars:  200,
		MaxBodyChars:  6000,
		FallbackChars: 400,
	}
}

// Summarizer produces entry and thread summaries. The cache is consulted
// before any LLM call; a cached summary for (entry_id, body hash) means the
// LLM is invoked at most once per distinct body. LLM failures degrade to an
// extractive summary and a recorded warning, never a failed build.
type Summarizer struct {
	client Client
	cache  *cache.Cache
	cfg    SummarizerConfig

	mu       sync.Mutex
	warnings []string
}

// NewSummarizer builds a Summarizer. cache may be nil (no caching); client
// may be nil, in which case every summary is extractive.
func NewSummarizer(client Client, c *cache.Cache, cfg SummarizerConfig) *Summarizer {
	if cfg.MinBodyChars == 0 {
		cfg = DefaultSummarizerConfig()
	}
	return &Summarizer{client: client, cache: c, cfg: cfg}
}

var entryPromptTmpl = template.Must(template.New("entry").Parse(
	`Summarize this conversation entry in 2-3 sentences. Preserve concrete decisions, names, and outcomes; drop pleasantries.

Agent: {{.Agent}}
Role: {{.Role}}
Type: {{.EntryType}}
{{if .Title}}Title: {{.Title}}
{{end}}
{{.Body}}`))

var threadPromptTmpl = template.Must(template.New("thread").Parse(
	`Summarize this discussion thread in 3-4 sentences based on its entry summaries. Capture the overall goal, the key decisions, and the current state.

Thread: {{.Title}}
Status: {{.Status}}

{{range .Bullets}}- {{.}}
{{end}}`))

// SummarizeEntry returns a summary for the entry, consulting the cache
// first. Only a successful LLM result is written back to the cache, so a
// degraded run retries summarization next time.
func (s *Summarizer) SummarizeEntry(ctx context.Context, e *types.Entry) (string, error) {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return "", nil
	}
	if len(body) < s.cfg.MinBodyChars {
		return body, nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetSummary(e.EntryID, e.Body); ok {
			return cached, nil
		}
	}

	if s.client == nil {
		return s.extractive(body), nil
	}

	prompt, err := s.renderEntryPrompt(e, body)
	if err != nil {
		return s.extractive(body), nil
	}

	summary, err := s.client.Complete(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.warn("entry %s: summarization failed, using extractive fallback: %v", e.EntryID, err)
		return s.extractive(body), nil
	}

	if s.cache != nil {
		if err := s.cache.PutSummary(e.EntryID, e.Body, summary); err != nil {
			s.warn("entry %s: cache write failed: %v", e.EntryID, err)
		}
	}
	return summary, nil
}

// SummarizeThread returns a summary for a thread given its entry summaries,
// in entry order. Threads with two or fewer entries concatenate their entry
// summaries; larger threads go through the LLM with bulleted summaries.
func (s *Summarizer) SummarizeThread(ctx context.Context, th *types.Thread, entrySummaries []string) (string, error) {
	var bullets []string
	for _, es := range entrySummaries {
		if strings.TrimSpace(es) != "" {
			bullets = append(bullets, strings.TrimSpace(es))
		}
	}
	if len(bullets) == 0 {
		return "", nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetThreadSummary(th.ThreadID, len(th.EntryIDs)); ok {
			return cached, nil
		}
	}

	if len(bullets) <= 2 || s.client == nil {
		joined := strings.Join(bullets, " ")
		if s.cache != nil && s.client != nil {
			if err := s.cache.PutThreadSummary(th.ThreadID, len(th.EntryIDs), joined); err != nil {
				s.warn("thread %s: cache write failed: %v", th.ThreadID, err)
			}
		}
		return joined, nil
	}

	var buf strings.Builder
	data := struct {
		Title   string
		Status  types.Status
		Bullets []string
	}{th.Title, th.Status, bullets}
	if err := threadPromptTmpl.Execute(&buf, data); err != nil {
		return strings.Join(bullets, " "), nil
	}

	summary, err := s.client.Complete(ctx, buf.String())
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.warn("thread %s: summarization failed, concatenating entry summaries: %v", th.ThreadID, err)
		return strings.Join(bullets, " "), nil
	}

	if s.cache != nil {
		if err := s.cache.PutThreadSummary(th.ThreadID, len(th.EntryIDs), summary); err != nil {
			s.warn("thread %s: cache write failed: %v", th.ThreadID, err)
		}
	}
	return summary, nil
}

func (s *Summarizer) renderEntryPrompt(e *types.Entry, body string) (string, error) {
	body = truncateRunes(body, s.cfg.MaxBodyChars)
	var buf strings.Builder
	data := struct {
		Agent     string
		Role      types.Role
		EntryType types.EntryType
		Title     string
		Body      string
	}{e.Agent, e.Role, e.EntryType, e.Title, body}
	if err := entryPromptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var markdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

// extractive builds a summary without the LLM: markdown headers become a
// "Topics:" line, followed by the first paragraph, all within the configured
// character budget.
func (s *Summarizer) extractive(body string) string {
	budget := s.cfg.FallbackChars
	if budget <= 0 {
		budget = 400
	}

	var parts []string
	if headers := markdownHeader.FindAllStringSubmatch(body, 5); len(headers) > 0 {
		names := make([]string, len(headers))
		for i, h := range headers {
			names[i] = strings.TrimSpace(h[1])
		}
		parts = append(parts, "Topics: "+strings.Join(names, ", "))
	}

	for _, p := range strings.Split(body, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		parts = append(parts, p)
		break
	}

	return strings.TrimSpace(truncateRunes(strings.Join(parts, "\n"), budget))
}

// truncateRunes cuts s to at most n bytes, backing up to a rune boundary so
// a multi-byte sequence is never split.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (s *Summarizer) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	debug.Warnf("%s\n", msg)
	s.mu.Lock()
	s.warnings = append(s.warnings, msg)
	s.mu.Unlock()
}

// Warnings returns the accumulated per-item warnings for the run report.
func (s *Summarizer) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}
