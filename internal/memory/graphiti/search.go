package graphiti

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
)

// SearchEpisodes matches episode bodies against the query terms, most
// recent first.
func (b *Backend) SearchEpisodes(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	if err := b.configured(); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (e:Episode) WHERE %s RETURN e.uuid, e.name, e.body, e.source_description, e.group_id ORDER BY e.reference_time DESC LIMIT %d",
		episodeFilter(query, opts.GroupIDs), b.limit(opts),
	)
	rows, err := b.queryRows(ctx, cypher)
	if err != nil {
		return nil, err
	}

	results := make([]types.CoreResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.CoreResult{
			ID:      col(row, 0),
			Name:    col(row, 1),
			Content: col(row, 2),
			Source:  col(row, 3),
			Backend: BackendName,
			Extra:   map[string]any{"group_id": col(row, 4)},
		})
	}
	return results, nil
}

// SearchNodes matches the entity nodes the engine extracted from episodes.
func (b *Backend) SearchNodes(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	if err := b.configured(); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (n:Entity) WHERE toLower(n.name) CONTAINS '%s' OR toLower(n.summary) CONTAINS '%s' RETURN n.uuid, n.name, n.summary LIMIT %d",
		escape(strings.ToLower(query)), escape(strings.ToLower(query)), b.limit(opts),
	)
	rows, err := b.queryRows(ctx, cypher)
	if err != nil {
		return nil, err
	}

	results := make([]types.CoreResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.CoreResult{
			ID:      col(row, 0),
			Name:    col(row, 1),
			Summary: col(row, 2),
			Backend: BackendName,
		})
	}
	return results, nil
}

// SearchFacts matches the relations between extracted entities.
func (b *Backend) SearchFacts(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	if err := b.configured(); err != nil {
		return nil, err
	}
	where := fmt.Sprintf("toLower(r.fact) CONTAINS '%s'", escape(strings.ToLower(query)))
	if opts.CenterNodeID != "" {
		if err := memory.CheckNodeID(BackendName, types.IDTypeUUID, opts.CenterNodeID); err != nil {
			return nil, err
		}
		where = fmt.Sprintf("(%s) AND (a.uuid = '%s' OR c.uuid = '%s')",
			where, opts.CenterNodeID, opts.CenterNodeID)
	}
	cypher := fmt.Sprintf(
		"MATCH (a:Entity)-[r:RELATES_TO]->(c:Entity) WHERE %s RETURN r.uuid, r.fact, a.uuid, c.uuid LIMIT %d",
		where, b.limit(opts),
	)
	rows, err := b.queryRows(ctx, cypher)
	if err != nil {
		return nil, err
	}

	results := make([]types.CoreResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.CoreResult{
			ID:           col(row, 0),
			Content:      col(row, 1),
			SourceNodeID: col(row, 2),
			TargetNodeID: col(row, 3),
			Backend:      BackendName,
		})
	}
	return results, nil
}

// GetNode fetches one entity by its UUID.
func (b *Backend) GetNode(ctx context.Context, nodeID, groupID string) (*types.CoreResult, error) {
	if err := memory.CheckNodeID(BackendName, types.IDTypeUUID, nodeID); err != nil {
		return nil, err
	}
	if err := b.configured(); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (n:Entity {uuid: '%s'}) RETURN n.uuid, n.name, n.summary LIMIT 1", nodeID)
	rows, err := b.queryRows(ctx, cypher)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &types.CoreResult{
		ID:      col(rows[0], 0),
		Name:    col(rows[0], 1),
		Summary: col(rows[0], 2),
		Backend: BackendName,
	}, nil
}

// GetEdge fetches one relation by its UUID.
func (b *Backend) GetEdge(ctx context.Context, edgeID, groupID string) (*types.CoreResult, error) {
	if err := memory.CheckNodeID(BackendName, types.IDTypeUUID, edgeID); err != nil {
		return nil, err
	}
	if err := b.configured(); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(
		"MATCH (a:Entity)-[r:RELATES_TO {uuid: '%s'}]->(c:Entity) RETURN r.uuid, r.fact, a.uuid, c.uuid LIMIT 1", edgeID)
	rows, err := b.queryRows(ctx, cypher)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &types.CoreResult{
		ID:           col(rows[0], 0),
		Content:      col(rows[0], 1),
		SourceNodeID: col(rows[0], 2),
		TargetNodeID: col(rows[0], 3),
		Backend:      BackendName,
	}, nil
}

func (b *Backend) limit(opts memory.SearchOptions) int {
	if opts.MaxResults > 0 {
		return opts.MaxResults
	}
	return b.cfg.MaxResults
}

// episodeFilter builds the WHERE clause for episode search: every query
// term must appear in the body, optionally restricted to group IDs.
func episodeFilter(query string, groupIDs []string) string {
	var clauses []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		clauses = append(clauses, fmt.Sprintf("toLower(e.body) CONTAINS '%s'", escape(term)))
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "true")
	}
	if len(groupIDs) > 0 {
		var quoted []string
		for _, g := range groupIDs {
			quoted = append(quoted, "'"+escape(g)+"'")
		}
		clauses = append(clauses, fmt.Sprintf("e.group_id IN [%s]", strings.Join(quoted, ", ")))
	}
	return strings.Join(clauses, " AND ")
}

// queryRows runs a Cypher statement and flattens the GRAPH.QUERY reply into
// string rows. The reply is [header, rows, stats]; every returned value here
// is a scalar property, so each cell stringifies directly.
func (b *Backend) queryRows(ctx context.Context, cypher string) ([][]string, error) {
	raw, err := b.graphQuery(ctx, cypher)
	if err != nil {
		return nil, err
	}
	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 2 {
		return nil, nil
	}
	rawRows, ok := reply[1].([]interface{})
	if !ok {
		return nil, nil
	}

	rows := make([][]string, 0, len(rawRows))
	for _, rr := range rawRows {
		cells, ok := rr.([]interface{})
		if !ok {
			continue
		}
		row := make([]string, 0, len(cells))
		for _, c := range cells {
			row = append(row, stringify(c))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func col(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
