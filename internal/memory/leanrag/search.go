package leanrag

import (
	"context"
	"sort"

	"github.com/steveyegge/watercooler/internal/embed"
	"github.com/steveyegge/watercooler/internal/memory"
	"github.com/steveyegge/watercooler/internal/types"
)

// SearchNodes embeds the query and ranks entities by cosine similarity over
// their stored embeddings.
func (b *Backend) SearchNodes(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	s, err := b.ensureStore()
	if err != nil {
		return nil, err
	}
	if b.embedder == nil {
		return nil, &memory.ConfigError{Msg: "leanrag: no embedding endpoint configured, node search unavailable"}
	}

	vecs, err := b.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, &memory.BackendError{Backend: BackendName, Op: "search_nodes", Err: err}
	}
	qvec := vecs[0]

	limit := opts.MaxResults
	if limit <= 0 {
		limit = b.cfg.MaxResults
	}

	type scored struct {
		ent   *entity
		score float64
	}
	var ranked []scored
	for i := range s.entities {
		e := &s.entities[i]
		if len(e.Embedding) == 0 {
			continue
		}
		ranked = append(ranked, scored{e, embed.Cosine(qvec, e.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]types.CoreResult, 0, len(ranked))
	for _, r := range ranked {
		score := r.score
		results = append(results, types.CoreResult{
			ID:      r.ent.EntityName,
			Name:    r.ent.EntityName,
			Summary: r.ent.Description,
			Score:   &score,
			Backend: BackendName,
			Extra: map[string]any{
				"level":  r.ent.Level,
				"parent": r.ent.Parent,
			},
		})
	}
	return results, nil
}

// SearchFacts finds the entities closest to the query, walks each hit's
// ancestor chain, and returns the relations that connect any two nodes in
// the combined set. A relation and its reverse count as one fact.
func (b *Backend) SearchFacts(ctx context.Context, query string, opts memory.SearchOptions) ([]types.CoreResult, error) {
	s, err := b.ensureStore()
	if err != nil {
		return nil, err
	}

	nodeOpts := opts
	if nodeOpts.MaxResults <= 0 {
		nodeOpts.MaxResults = b.cfg.MaxResults
	}
	nodes, err := b.SearchNodes(ctx, query, nodeOpts)
	if err != nil {
		return nil, err
	}

	reachable := make(map[string]bool)
	for _, n := range nodes {
		for _, name := range s.ancestors(n.ID) {
			reachable[name] = true
		}
	}
	if opts.CenterNodeID != "" {
		if err := memory.CheckNodeID(BackendName, types.IDTypeName, opts.CenterNodeID); err != nil {
			return nil, err
		}
		for _, name := range s.ancestors(opts.CenterNodeID) {
			reachable[name] = true
		}
	}

	limit := opts.MaxResults
	if limit <= 0 {
		limit = b.cfg.MaxResults
	}

	seen := make(map[string]bool)
	var results []types.CoreResult
	for _, r := range s.relations {
		if !reachable[r.Source] || !reachable[r.Target] {
			continue
		}
		if opts.CenterNodeID != "" && r.Source != opts.CenterNodeID && r.Target != opts.CenterNodeID {
			continue
		}
		key := pairKey(r.Source, r.Target)
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, factResult(r))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// pairKey is direction-insensitive so A->B and B->A deduplicate to one fact.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func factResult(r relation) types.CoreResult {
	return types.CoreResult{
		ID:           memory.SyntheticEdgeID(r.Source, r.Target),
		Content:      r.Description,
		SourceNodeID: r.Source,
		TargetNodeID: r.Target,
		Backend:      BackendName,
	}
}

// GetNode looks an entity up by name. UUID- or ULID-shaped identifiers are
// rejected; this engine keys nodes by entity name.
func (b *Backend) GetNode(ctx context.Context, nodeID, groupID string) (*types.CoreResult, error) {
	if err := memory.CheckNodeID(BackendName, types.IDTypeName, nodeID); err != nil {
		return nil, err
	}
	s, err := b.ensureStore()
	if err != nil {
		return nil, err
	}
	e, ok := s.byName[nodeID]
	if !ok {
		return nil, nil
	}
	return &types.CoreResult{
		ID:      e.EntityName,
		Name:    e.EntityName,
		Summary: e.Description,
		Backend: BackendName,
		Extra: map[string]any{
			"level":  e.Level,
			"parent": e.Parent,
		},
	}, nil
}

// GetEdge looks a fact up by its synthetic SOURCE||TARGET identifier, in
// either direction.
func (b *Backend) GetEdge(ctx context.Context, edgeID, groupID string) (*types.CoreResult, error) {
	if err := memory.CheckEdgeID(BackendName, types.IDTypeSynthetic, edgeID); err != nil {
		return nil, err
	}
	source, target, _ := memory.SplitSyntheticEdgeID(edgeID)

	s, err := b.ensureStore()
	if err != nil {
		return nil, err
	}
	for _, r := range s.relations {
		if (r.Source == source && r.Target == target) || (r.Source == target && r.Target == source) {
			res := factResult(r)
			return &res, nil
		}
	}
	return nil, nil
}
