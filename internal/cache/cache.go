// Package cache implements the content-addressed disk cache for LLM
// summaries and embedding vectors.
//
// Layout under the base directory:
//
//	summaries/<sanitized-entry-id>.json   one file per (entry_id, body hash)
//	thread_summaries/<topic>.json         invalidated when entry_count changes
//	embeddings/<sha256(text)>.json        one vector per unique text
//
// Writes go through a temp file plus rename so a crashed run never leaves a
// half-written file that a later run would return as a hit. Corrupt or
// partial files read back as misses.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/steveyegge/watercooler/internal/types"
	"github.com/steveyegge/watercooler/internal/utils"
)

const (
	summariesDir       = "summaries"
	threadSummariesDir = "thread_summaries"
	embeddingsDir      = "embeddings"

	dirPerm  = 0o750
	filePerm = 0o600
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Cache is a handle to the on-disk stores. Pass it explicitly through the
// call chain; the default location is only resolved at the CLI boundary.
type Cache struct {
	baseDir string
}

// DefaultDir returns the default cache root (~/.watercooler/cache), honoring
// WATERCOOLER_CACHE_DIR.
func DefaultDir() string {
	if dir := os.Getenv("WATERCOOLER_CACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".watercooler", "cache")
}

// New opens (creating if needed) a cache rooted at baseDir.
func New(baseDir string) (*Cache, error) {
	for _, sub := range []string{summariesDir, threadSummariesDir, embeddingsDir} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), dirPerm); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Cache{baseDir: baseDir}, nil
}

// summaryRecord is the stored form of an entry summary. The body hash guards
// against entry IDs being reused with different content.
type summaryRecord struct {
	EntryID  string `json:"entry_id"`
	BodyHash string `json:"body_hash"`
	Summary  string `json:"summary"`
}

// threadSummaryRecord is the stored form of a thread summary.
type threadSummaryRecord struct {
	Topic      string `json:"topic"`
	EntryCount int    `json:"entry_count"`
	Summary    string `json:"summary"`
}

// embeddingRecord is the stored form of one embedding vector.
type embeddingRecord struct {
	TextHash  string    `json:"text_hash"`
	Embedding []float64 `json:"embedding"`
}

func sanitize(id string) string {
	return unsafeChars.ReplaceAllString(id, "_")
}

func (c *Cache) summaryPath(entryID string) string {
	return filepath.Join(c.baseDir, summariesDir, sanitize(entryID)+".json")
}

func (c *Cache) threadSummaryPath(topic string) string {
	return filepath.Join(c.baseDir, threadSummariesDir, sanitize(topic)+".json")
}

func (c *Cache) embeddingPath(textHash string) string {
	return filepath.Join(c.baseDir, embeddingsDir, textHash+".json")
}

// GetSummary returns the cached summary for (entryID, body) or ok=false on a
// miss. A stored record whose body hash does not match the current body is a
// miss: the ID was reused for different content and the stale entry must not
// be served.
func (c *Cache) GetSummary(entryID, body string) (string, bool) {
	data, err := os.ReadFile(c.summaryPath(entryID))
	if err != nil {
		return "", false
	}
	var rec summaryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false
	}
	if rec.BodyHash != types.HashBody(body) {
		return "", false
	}
	return rec.Summary, true
}

// PutSummary stores a summary for (entryID, body).
func (c *Cache) PutSummary(entryID, body, summary string) error {
	rec := summaryRecord{EntryID: entryID, BodyHash: types.HashBody(body), Summary: summary}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal summary record: %w", err)
	}
	return utils.WriteFileAtomic(c.summaryPath(entryID), data, filePerm)
}

// GetThreadSummary returns the cached thread summary, invalidated when the
// entry count has changed since it was stored.
func (c *Cache) GetThreadSummary(topic string, entryCount int) (string, bool) {
	data, err := os.ReadFile(c.threadSummaryPath(topic))
	if err != nil {
		return "", false
	}
	var rec threadSummaryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false
	}
	if rec.EntryCount != entryCount {
		return "", false
	}
	return rec.Summary, true
}

// PutThreadSummary stores a thread summary keyed by topic and entry count.
func (c *Cache) PutThreadSummary(topic string, entryCount int, summary string) error {
	rec := threadSummaryRecord{Topic: topic, EntryCount: entryCount, Summary: summary}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal thread summary record: %w", err)
	}
	return utils.WriteFileAtomic(c.threadSummaryPath(topic), data, filePerm)
}

// HashText returns the embedding cache key for a text.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// GetEmbedding returns the cached vector for text, or ok=false on a miss.
func (c *Cache) GetEmbedding(text string) ([]float64, bool) {
	data, err := os.ReadFile(c.embeddingPath(HashText(text)))
	if err != nil {
		return nil, false
	}
	var rec embeddingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	if len(rec.Embedding) == 0 {
		return nil, false
	}
	return rec.Embedding, true
}

// PutEmbedding stores a vector for text.
func (c *Cache) PutEmbedding(text string, embedding []float64) error {
	hash := HashText(text)
	rec := embeddingRecord{TextHash: hash, Embedding: embedding}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal embedding record: %w", err)
	}
	return utils.WriteFileAtomic(c.embeddingPath(hash), data, filePerm)
}

// GetEmbeddings performs a batch lookup. It returns a result slice aligned
// with texts (nil where missing) plus the indices of the misses, so the
// embedder only sends uncached items to the wire.
func (c *Cache) GetEmbeddings(texts []string) ([][]float64, []int) {
	results := make([][]float64, len(texts))
	var missing []int
	for i, text := range texts {
		if vec, ok := c.GetEmbedding(text); ok {
			results[i] = vec
		} else {
			missing = append(missing, i)
		}
	}
	return results, missing
}

// BaseDir returns the cache root, for diagnostics.
func (c *Cache) BaseDir() string {
	return c.baseDir
}
