package leanrag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/watercooler/internal/types"
	"github.com/steveyegge/watercooler/internal/utils"
)

// document is the engine's per-entry input record. Content prefers the
// summary and falls back to the raw body so unsummarized runs still extract.
type document struct {
	DocID     string `json:"doc_id"`
	ThreadID  string `json:"thread_id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Agent     string `json:"agent,omitempty"`
	Role      string `json:"role,omitempty"`
	EntryType string `json:"entry_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type threadRecord struct {
	ThreadID  string   `json:"thread_id"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	Summary   string   `json:"summary,omitempty"`
	EntryIDs  []string `json:"entry_ids"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

type chunkRecord struct {
	ChunkID    string    `json:"chunk_id"`
	DocID      string    `json:"doc_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

// exportManifest describes one export. ManifestVersion stays the first field.
type exportManifest struct {
	ManifestVersion string             `json:"manifest_version"`
	CreatedAt       string             `json:"created_at"`
	ThreadCount     int                `json:"thread_count"`
	DocumentCount   int                `json:"document_count"`
	Chunker         *types.ChunkerInfo `json:"chunker,omitempty"`
}

func (b *Backend) writeExport(payload *types.CorpusPayload, chunks []*types.Chunk) error {
	dir := b.exportDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	docs := make([]document, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		content := e.Summary
		if content == "" {
			content = e.Body
		}
		var ts string
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.UTC().Format(time.RFC3339)
		}
		docs = append(docs, document{
			DocID:     e.EntryID,
			ThreadID:  e.ThreadID,
			Title:     e.Title,
			Content:   content,
			Agent:     e.Agent,
			Role:      string(e.Role),
			EntryType: string(e.EntryType),
			Timestamp: ts,
		})
	}
	if err := writeJSON(filepath.Join(dir, "documents.json"), docs); err != nil {
		return err
	}

	threads := make([]threadRecord, 0, len(payload.Threads))
	for _, th := range payload.Threads {
		var updated string
		if !th.UpdatedAt.IsZero() {
			updated = th.UpdatedAt.UTC().Format(time.RFC3339)
		}
		threads = append(threads, threadRecord{
			ThreadID:  th.ThreadID,
			Title:     th.Title,
			Status:    string(th.Status),
			Summary:   th.Summary,
			EntryIDs:  th.EntryIDs,
			UpdatedAt: updated,
		})
	}
	if err := writeJSON(filepath.Join(dir, "threads.json"), threads); err != nil {
		return err
	}

	manifest := exportManifest{
		ManifestVersion: payload.ManifestVersion,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		ThreadCount:     len(payload.Threads),
		DocumentCount:   len(docs),
		Chunker:         payload.Chunker,
	}
	if err := writeJSON(filepath.Join(dir, "manifest.json"), manifest); err != nil {
		return err
	}

	if chunks != nil {
		return b.writeChunkRecords(chunks)
	}
	return nil
}

func (b *Backend) writeChunks(payload *types.ChunkPayload) error {
	return b.writeChunkRecords(payload.Chunks)
}

func (b *Backend) writeChunkRecords(chunks []*types.Chunk) error {
	dir := b.exportDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	records := make([]chunkRecord, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, chunkRecord{
			ChunkID:    c.ChunkID,
			DocID:      c.EntryID,
			Index:      c.Index,
			Text:       c.Text,
			TokenCount: c.TokenCount,
			Embedding:  c.Embedding,
		})
	}
	return writeJSON(filepath.Join(dir, "threads_chunk.json"), records)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}
