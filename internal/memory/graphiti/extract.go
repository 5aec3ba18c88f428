package graphiti

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// triple is one relation the LLM extracted from an episode body.
type triple struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
	Fact     string `json:"fact"`
}

const extractionPrompt = `Extract the named entities and the relations between them from this text. Respond with only a JSON array of objects with keys "source", "relation", "target", and "fact", where fact is one sentence stating the relation.

Text:
%s`

// extractEpisode asks the LLM for the entities and relations in one episode
// and merges them into the graph. Entities merge by name so repeated
// mentions across episodes collapse into one node.
func (b *Backend) extractEpisode(ctx context.Context, ep Episode) (int, error) {
	if b.extract == nil {
		return 0, nil
	}
	raw, err := b.extract.Complete(ctx, fmt.Sprintf(extractionPrompt, ep.EpisodeBody))
	if err != nil {
		return 0, fmt.Errorf("entity extraction: %w", err)
	}
	triples, err := parseTriples(raw)
	if err != nil {
		return 0, fmt.Errorf("entity extraction: %w", err)
	}
	for _, tr := range triples {
		for _, cypher := range tripleCypher(tr, ep.GroupID) {
			if _, err := b.graphQuery(ctx, cypher); err != nil {
				return 0, err
			}
		}
	}
	return len(triples), nil
}

// parseTriples decodes the model's JSON array, tolerating code fences and
// prose around it. Triples missing an endpoint are dropped; a missing fact
// is synthesized from the endpoints and relation.
func parseTriples(raw string) ([]triple, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in extraction response")
	}
	var parsed []triple
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}

	triples := make([]triple, 0, len(parsed))
	for _, tr := range parsed {
		tr.Source = strings.TrimSpace(tr.Source)
		tr.Target = strings.TrimSpace(tr.Target)
		if tr.Source == "" || tr.Target == "" {
			continue
		}
		if tr.Fact == "" {
			tr.Fact = strings.TrimSpace(fmt.Sprintf("%s %s %s", tr.Source, tr.Relation, tr.Target))
		}
		triples = append(triples, tr)
	}
	return triples, nil
}

// tripleCypher renders the statements that store one triple: both entity
// nodes merged by name, then the RELATES_TO edge between them.
func tripleCypher(tr triple, groupID string) []string {
	return []string{
		entityMerge(tr.Source, groupID),
		entityMerge(tr.Target, groupID),
		fmt.Sprintf(
			"MATCH (a:Entity {name: '%s'}), (c:Entity {name: '%s'}) MERGE (a)-[r:RELATES_TO]->(c) ON CREATE SET r.uuid = '%s' SET r.fact = '%s'",
			escape(tr.Source), escape(tr.Target), uuid.NewString(), escape(tr.Fact),
		),
	}
}

func entityMerge(name, groupID string) string {
	return fmt.Sprintf(
		"MERGE (n:Entity {name: '%s'}) ON CREATE SET n.uuid = '%s', n.summary = '', n.group_id = '%s'",
		escape(name), uuid.NewString(), escape(groupID),
	)
}
