// Package types defines core data structures for the watercooler knowledge graph.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ManifestVersion is the baseline schema version carried by every payload
// crossing the backend boundary.
const ManifestVersion = "1.0.0"

// Status is a thread lifecycle state. Stored casefolded.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusInReview  Status = "in_review"
	StatusBlocked   Status = "blocked"
	StatusMerged    Status = "merged"
	StatusResolved  Status = "resolved"
	StatusAbandoned Status = "abandoned"
	StatusObsolete  Status = "obsolete"
	StatusDone      Status = "done"
)

// closedStates is the set of statuses that count as closed.
var closedStates = map[Status]bool{
	StatusDone:      true,
	StatusClosed:    true,
	StatusMerged:    true,
	StatusResolved:  true,
	StatusAbandoned: true,
	StatusObsolete:  true,
}

// NormalizeStatus casefolds a raw status string. Unknown values pass through
// casefolded so callers can still round-trip them.
func NormalizeStatus(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// IsClosed reports whether the status is in the closed set.
func (s Status) IsClosed() bool {
	return closedStates[s]
}

// Role identifies the function an agent plays within a thread.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleCritic      Role = "critic"
	RoleImplementer Role = "implementer"
	RoleTester      Role = "tester"
	RolePM          Role = "pm"
	RoleScribe      Role = "scribe"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RolePlanner, RoleCritic, RoleImplementer, RoleTester, RolePM, RoleScribe:
		return true
	}
	return false
}

// EntryType classifies an entry's contribution.
type EntryType string

const (
	EntryNote     EntryType = "Note"
	EntryPlan     EntryType = "Plan"
	EntryDecision EntryType = "Decision"
	EntryPR       EntryType = "PR"
	EntryClosure  EntryType = "Closure"
)

// Thread is the root of one append-only conversation log (one file per topic).
// Entries are referenced by ID; the thread does not hold entry pointers so the
// graph stays an arena of flat maps with no reference cycles.
type Thread struct {
	ThreadID      string    `json:"thread_id"`
	Title         string    `json:"title"`
	Status        Status    `json:"status"`
	Ball          string    `json:"ball,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	EntryIDs      []string  `json:"entry_ids"`
	Summary       string    `json:"summary,omitempty"`
	Embedding     []float64 `json:"embedding,omitempty"`
	BranchContext string    `json:"branch_context,omitempty"`
}

// Entry is one contribution to a thread. Index is the 0-based position within
// the thread and is contiguous after parsing.
type Entry struct {
	EntryID          string    `json:"entry_id"`
	ThreadID         string    `json:"thread_id"`
	Index            int       `json:"index"`
	Agent            string    `json:"agent"`
	Role             Role      `json:"role,omitempty"`
	EntryType        EntryType `json:"entry_type,omitempty"`
	Title            string    `json:"title,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Body             string    `json:"body"`
	ChunkIDs         []string  `json:"chunk_ids,omitempty"`
	SequenceIndex    int       `json:"sequence_index"`
	PrecedingEntryID string    `json:"preceding_entry_id,omitempty"`
	FollowingEntryID string    `json:"following_entry_id,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	Embedding        []float64 `json:"embedding,omitempty"`
}

// Chunk is a token-bounded substring of an entry body.
type Chunk struct {
	ChunkID    string     `json:"chunk_id"`
	EntryID    string     `json:"entry_id"`
	ThreadID   string     `json:"thread_id"`
	Index      int        `json:"index"`
	Text       string     `json:"text"`
	TokenCount int        `json:"token_count"`
	Embedding  []float64  `json:"embedding,omitempty"`
	EventTime  *time.Time `json:"event_time,omitempty"`
}

// EdgeKind is a directed relation label.
type EdgeKind string

const (
	EdgeContains   EdgeKind = "CONTAINS"
	EdgeFollows    EdgeKind = "FOLLOWS"
	EdgeReferences EdgeKind = "references"
)

// Edge is a directed relation between two node IDs.
type Edge struct {
	Kind   EdgeKind `json:"kind"`
	Source string   `json:"source"`
	Target string   `json:"target"`
}

// Hyperedge is a one-to-many membership relation (e.g. Thread -> Entries).
// Backends may materialize it as a sequence of Edges.
type Hyperedge struct {
	Kind    EdgeKind `json:"kind"`
	Source  string   `json:"source"`
	Targets []string `json:"targets"`
}

// ChunkerInfo describes the chunker configuration that produced a payload's
// chunks, so backends can reproduce or validate boundaries.
type ChunkerInfo struct {
	MaxTokens int    `json:"max_tokens"`
	Overlap   int    `json:"overlap"`
	Preset    string `json:"preset,omitempty"`
}

// CorpusPayload is the canonical record handed to Backend.Prepare.
// ManifestVersion must be the first field in the JSON encoding.
type CorpusPayload struct {
	ManifestVersion string       `json:"manifest_version"`
	Threads         []*Thread    `json:"threads"`
	Entries         []*Entry     `json:"entries"`
	Edges           []Edge       `json:"edges"`
	Hyperedges      []Hyperedge  `json:"hyperedges,omitempty"`
	Chunker         *ChunkerInfo `json:"chunker,omitempty"`
}

// ChunkPayload is the canonical record handed to Backend.Index.
type ChunkPayload struct {
	ManifestVersion string    `json:"manifest_version"`
	Chunks          []*Chunk  `json:"chunks"`
	Threads         []*Thread `json:"threads,omitempty"`
	Entries         []*Entry  `json:"entries,omitempty"`
	Edges           []Edge    `json:"edges,omitempty"`
}

// Query is a single retrieval request.
type Query struct {
	Query    string            `json:"query"`
	Limit    int               `json:"limit,omitempty"`
	GroupIDs []string          `json:"group_ids,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// QueryPayload is the canonical record handed to Backend.Query.
type QueryPayload struct {
	ManifestVersion string  `json:"manifest_version"`
	Queries         []Query `json:"queries"`
}

// PrepareResult is returned by Backend.Prepare.
type PrepareResult struct {
	ManifestVersion string `json:"manifest_version"`
	PreparedCount   int    `json:"prepared_count"`
	Message         string `json:"message,omitempty"`
}

// IndexResult is returned by Backend.Index.
type IndexResult struct {
	ManifestVersion string `json:"manifest_version"`
	IndexedCount    int    `json:"indexed_count"`
	Message         string `json:"message,omitempty"`
}

// QueryResult is returned by Backend.Query.
type QueryResult struct {
	ManifestVersion string       `json:"manifest_version"`
	Results         []CoreResult `json:"results"`
}

// CoreResult is the normalized record every backend retrieval operation
// returns. Backend-specific fields live in Extra and must not shadow the core
// keys (see CoreResultKeys).
type CoreResult struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Content      string         `json:"content,omitempty"`
	Score        *float64       `json:"score,omitempty"`
	Source       string         `json:"source,omitempty"`
	SourceNodeID string         `json:"source_node_id,omitempty"`
	TargetNodeID string         `json:"target_node_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Backend      string         `json:"backend"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// CoreResultKeys is the reserved key set that Extra entries may not use.
var CoreResultKeys = map[string]bool{
	"id": true, "name": true, "summary": true, "content": true,
	"score": true, "source": true, "source_node_id": true,
	"target_node_id": true, "metadata": true, "backend": true,
}

// HealthStatus is returned by Backend.Healthcheck. Healthcheck never fails;
// trouble is reported through OK=false.
type HealthStatus struct {
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// IDType describes the identifier shapes a backend accepts.
type IDType string

const (
	IDTypeName        IDType = "name"
	IDTypeUUID        IDType = "uuid"
	IDTypeSynthetic   IDType = "synthetic"
	IDTypePassthrough IDType = "passthrough"
)

// Capabilities declares what a backend supports. Callers feature-detect
// extended retrieval operations through the Supports* flags rather than by
// probing methods.
type Capabilities struct {
	Embeddings       bool     `json:"embeddings"`
	EntityExtraction bool     `json:"entity_extraction"`
	GraphQuery       bool     `json:"graph_query"`
	Rerank           bool     `json:"rerank"`
	SchemaVersions   []string `json:"schema_versions"`
	StorageBackends  []string `json:"storage_backends,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`

	SupportsNodes    bool `json:"supports_nodes"`
	SupportsFacts    bool `json:"supports_facts"`
	SupportsEpisodes bool `json:"supports_episodes"`
	SupportsChunks   bool `json:"supports_chunks"`
	SupportsEdges    bool `json:"supports_edges"`

	NodeIDType IDType `json:"node_id_type"`
	EdgeIDType IDType `json:"edge_id_type"`
}

// SupportsSchema reports whether the backend declares compatibility with the
// given manifest version.
func (c Capabilities) SupportsSchema(version string) bool {
	for _, v := range c.SchemaVersions {
		if v == version {
			return true
		}
	}
	return false
}

// HashBody returns the sha256 hex digest of an entry body. Summary cache keys
// are (entry_id, HashBody(body)) pairs.
func HashBody(body string) string {
	h := sha256.Sum256([]byte(body))
	return hex.EncodeToString(h[:])
}
