package memory

import (
	"fmt"
	"strings"

	"github.com/steveyegge/watercooler/internal/types"
)

// SyntheticEdgeSep joins the source and target node IDs of a synthetic edge.
const SyntheticEdgeSep = "||"

// UUIDShaped reports whether s looks like a UUID: 36 characters containing
// exactly 4 hyphens. Hyphen positions and hex digits are not checked; a
// name-keyed backend must reject non-canonical UUID-looking strings too.
func UUIDShaped(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

// ULIDShaped reports whether s looks like a ULID: 26 uppercase alphanumeric
// characters.
func ULIDShaped(s string) bool {
	if len(s) != 26 {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

// CheckNodeID enforces a backend's declared node ID modality. A backend that
// keys nodes by name rejects UUID- and ULID-shaped identifiers with an
// actionable message.
func CheckNodeID(backend string, idType types.IDType, id string) error {
	switch idType {
	case types.IDTypeName:
		if UUIDShaped(id) || ULIDShaped(id) {
			return &IdNotSupportedError{
				Backend: backend,
				ID:      id,
				Msg:     "this backend keys nodes by entity names, not UUID or ULID identifiers; pass the entity name instead",
			}
		}
	case types.IDTypeUUID:
		if !UUIDShaped(id) {
			return &IdNotSupportedError{
				Backend: backend,
				ID:      id,
				Msg:     "this backend requires UUID node identifiers",
			}
		}
	}
	return nil
}

// CheckEdgeID enforces a backend's declared edge ID modality. Synthetic edge
// IDs have the shape SOURCE||TARGET with both halves non-empty.
func CheckEdgeID(backend string, idType types.IDType, id string) error {
	if idType != types.IDTypeSynthetic {
		return nil
	}
	parts := strings.Split(id, SyntheticEdgeSep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return &IdNotSupportedError{
			Backend: backend,
			ID:      id,
			Msg:     fmt.Sprintf("synthetic edge ids have the shape SOURCE%sTARGET", SyntheticEdgeSep),
		}
	}
	return nil
}

// SyntheticEdgeID builds a synthetic edge identifier from its endpoints.
func SyntheticEdgeID(source, target string) string {
	return source + SyntheticEdgeSep + target
}

// SplitSyntheticEdgeID returns the endpoints of a synthetic edge ID.
func SplitSyntheticEdgeID(id string) (source, target string, ok bool) {
	parts := strings.Split(id, SyntheticEdgeSep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
