// Package personalization holds the per-job artifacts the Personalizer
// produces and the Evidence Grounder verifies.
package personalization

// EvidenceMapEntry ties one job requirement to the evidence id the
// Personalizer claims backs it.
type EvidenceMapEntry struct {
	Requirement     string `json:"requirement"`
	EvidenceIDClaim string `json:"evidenceIdClaim"`
	Rationale       string `json:"rationale,omitempty"`
	Grounded        bool   `json:"grounded"`
}

// Personalization is the external Personalizer's output for one job, after
// the Evidence Grounder has annotated each entry's Grounded field.
type Personalization struct {
	JobID        string             `json:"jobId"`
	CoverLetter  string             `json:"coverLetter"`
	EvidenceMap  []EvidenceMapEntry `json:"evidenceMap"`
}

// GroundedRatio returns grounded_count / total_requirements, or 1.0 when
// there are no requirements to ground (vacuously grounded).
func (p Personalization) GroundedRatio() float64 {
	if len(p.EvidenceMap) == 0 {
		return 1
	}
	grounded := 0
	for _, e := range p.EvidenceMap {
		if e.Grounded {
			grounded++
		}
	}
	return float64(grounded) / float64(len(p.EvidenceMap))
}

// UngroundedRequirements lists the requirements whose evidence claim did not
// resolve to a real profile entry.
func (p Personalization) UngroundedRequirements() []string {
	var out []string
	for _, e := range p.EvidenceMap {
		if !e.Grounded {
			out = append(out, e.Requirement)
		}
	}
	return out
}

// AnyUngrounded is the hard safety check in policygate's post-ground gate.
func (p Personalization) AnyUngrounded() bool {
	for _, e := range p.EvidenceMap {
		if !e.Grounded {
			return true
		}
	}
	return false
}
