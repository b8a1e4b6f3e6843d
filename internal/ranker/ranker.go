// Package ranker scores and orders candidate job postings against a
// candidate profile, combining a semantic-similarity collaborator with a
// cheap requirement-coverage heuristic.
package ranker

import (
	"context"
	"sort"
	"strings"

	"github.com/applyloop/agent/internal/domain/match"
	"github.com/applyloop/agent/internal/domain/policy"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
)

const (
	semanticWeight   = 0.7
	coverageWeight   = 0.3
	maxReasons       = 3
)

// Embedder is the external semantic-similarity collaborator. Cosine is
// expected to return a value in [-1, 1]; the Ranker rescales it to [0, 100].
type Embedder interface {
	Cosine(ctx context.Context, a, b string) (float64, error)
}

type Ranker struct {
	embedder Embedder
}

func New(embedder Embedder) *Ranker {
	return &Ranker{embedder: embedder}
}

// Rank filters jobs that fail the hard policy filters, scores the rest, and
// returns them ordered by descending score with a lexicographic job-id
// tie-break. min_match_threshold is deliberately NOT applied here.
func (r *Ranker) Rank(ctx context.Context, prof profile.Profile, jobs []posting.Job, pol policy.Policy) ([]match.Match, error) {
	blocked := pol.BlockedCompanySet()
	profileTokens := tokenSet(prof.AllSkillsAndText())

	out := make([]match.Match, 0, len(jobs))
	for _, job := range jobs {
		if _, isBlocked := blocked[strings.ToLower(job.Company)]; isBlocked {
			continue
		}
		if pol.RequireRemote && !job.Remote {
			continue
		}

		sim, err := r.embedder.Cosine(ctx, prof.Summary, job.Description)
		if err != nil {
			return nil, err
		}
		semanticScore := rescale(sim)

		coverage, topReqs := requirementCoverage(job.Requirements, profileTokens)
		score := semanticWeight*semanticScore + coverageWeight*(coverage*100)

		reasons := make([]string, 0, maxReasons)
		reasons = append(reasons, topReqs...)
		if pol.RequireRemote && job.Remote {
			reasons = append(reasons, "remote match")
		}
		if len(reasons) > maxReasons {
			reasons = reasons[:maxReasons]
		}

		out = append(out, match.Match{
			JobID:   job.ID,
			Score:   score,
			Reasons: reasons,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].JobID < out[j].JobID
	})

	return out, nil
}

// rescale maps a cosine similarity in [-1, 1] to a score in [0, 100].
func rescale(cosine float64) float64 {
	if cosine < -1 {
		cosine = -1
	}
	if cosine > 1 {
		cosine = 1
	}
	return (cosine + 1) * 50
}

// requirementCoverage returns the fraction of requirements with at least one
// significant token overlapping the profile's token set, plus up to
// maxReasons matched requirement strings (for the Match's Reasons).
func requirementCoverage(requirements []string, profileTokens map[string]struct{}) (float64, []string) {
	if len(requirements) == 0 {
		return 1, nil
	}

	var matched []string
	hit := 0
	for _, req := range requirements {
		for tok := range tokenSet([]string{req}) {
			if _, ok := profileTokens[tok]; ok {
				hit++
				if len(matched) < maxReasons {
					matched = append(matched, req)
				}
				break
			}
		}
	}
	return float64(hit) / float64(len(requirements)), matched
}

// tokenSet lowercases and splits on non-alphanumeric runs, dropping tokens
// too short to be a "significant" overlap signal.
func tokenSet(strs []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range strs {
		for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
		}) {
			if len(tok) >= 2 {
				out[tok] = struct{}{}
			}
		}
	}
	return out
}
