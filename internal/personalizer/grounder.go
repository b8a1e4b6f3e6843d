package personalizer

import (
	"github.com/applyloop/agent/internal/domain/personalization"
	"github.com/applyloop/agent/internal/domain/profile"
)

// Grounder verifies each evidence_id_claim a Personalizer makes against the
// actual profile, mutating nothing about the caller's claim text but
// annotating whether it resolves to a real bullet or proof.
type Grounder struct{}

// Ground checks every entry's EvidenceIDClaim against prof's bullet and
// proof sets and sets Grounded accordingly, returning the annotated
// personalization and the grounded/total ratio used in the stage event.
func (Grounder) Ground(p personalization.Personalization, prof profile.Profile) (personalization.Personalization, float64) {
	out := p
	out.EvidenceMap = make([]personalization.EvidenceMapEntry, len(p.EvidenceMap))
	copy(out.EvidenceMap, p.EvidenceMap)

	for i, entry := range out.EvidenceMap {
		out.EvidenceMap[i].Grounded = prof.HasEvidence(entry.EvidenceIDClaim)
	}

	return out, out.GroundedRatio()
}
