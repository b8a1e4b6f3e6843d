package personalizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/applyloop/agent/internal/domain/personalization"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
)

// HTTPPersonalizer is the raw, unprotected collaborator call: it hands the
// external generation service a profile and a job and expects a cover
// letter plus an evidence map back. The engine never talks to this
// directly — it always goes through ProtectedPersonalizer.
type HTTPPersonalizer struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPPersonalizer(baseURL string, httpClient *http.Client) *HTTPPersonalizer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPPersonalizer{baseURL: baseURL, httpClient: httpClient}
}

func (p *HTTPPersonalizer) Personalize(ctx context.Context, prof profile.Profile, job posting.Job) (personalization.Personalization, error) {
	body, err := json.Marshal(map[string]any{
		"profile": prof,
		"job":     job,
	})
	if err != nil {
		return personalization.Personalization{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/personalize", bytes.NewReader(body))
	if err != nil {
		return personalization.Personalization{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return personalization.Personalization{}, fmt.Errorf("personalizer: transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return personalization.Personalization{}, fmt.Errorf("personalizer: status %d", resp.StatusCode)
	}

	var out struct {
		CoverLetter string                             `json:"coverLetter"`
		EvidenceMap []personalization.EvidenceMapEntry `json:"evidenceMap"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return personalization.Personalization{}, err
	}

	return personalization.Personalization{
		JobID:       job.ID,
		CoverLetter: out.CoverLetter,
		EvidenceMap: out.EvidenceMap,
	}, nil
}
