// Package classifier maps historical arena rows onto the current kind scheme.
package classifier

import (
	"strings"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
)

// Normalize returns legacy_ms for an unknown row that belongs to a project and
// has no competing ms-family row. Every other row keeps its stored kind, so
// applying it twice is a no-op.
func Normalize(a types.Arena, competing int) types.Kind {
	if a.Kind != types.KindUnknown {
		return a.Kind
	}
	if strings.TrimSpace(a.ProjectID) == "" {
		return a.Kind
	}
	if competing > 0 {
		return a.Kind
	}
	return types.KindLegacyMS
}

// NormalizeCandidate is the read-time form used by the approval lookup.
func NormalizeCandidate(c types.Candidate) types.Kind {
	return Normalize(c.Arena, c.Competing)
}

// NeedsPromotion reports whether the bulk pass would relabel the row.
func NeedsPromotion(r types.LegacyRow) bool {
	return Normalize(r.Arena, r.Competing) != r.Arena.Kind
}
