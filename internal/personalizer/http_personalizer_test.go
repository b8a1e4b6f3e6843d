package personalizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
)

func TestHTTPPersonalizer_Personalize_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/personalize" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"coverLetter": "Dear hiring manager...",
			"evidenceMap": []map[string]any{
				{"requirement": "Go", "evidenceIdClaim": "b1", "grounded": true},
			},
		})
	}))
	defer srv.Close()

	p := NewHTTPPersonalizer(srv.URL, srv.Client())
	out, err := p.Personalize(context.Background(), profile.New(), posting.Job{ID: "j1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.JobID != "j1" {
		t.Fatalf("got JobID %q, want j1", out.JobID)
	}
	if out.CoverLetter != "Dear hiring manager..." {
		t.Fatalf("got CoverLetter %q", out.CoverLetter)
	}
	if len(out.EvidenceMap) != 1 || !out.EvidenceMap[0].Grounded {
		t.Fatalf("got EvidenceMap %+v", out.EvidenceMap)
	}
}

func TestHTTPPersonalizer_Personalize_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPPersonalizer(srv.URL, srv.Client())
	if _, err := p.Personalize(context.Background(), profile.New(), posting.Job{ID: "j1"}); err == nil {
		t.Fatal("expected error on non-200 status, got nil")
	}
}

func TestHTTPPersonalizer_Personalize_TransportError(t *testing.T) {
	p := NewHTTPPersonalizer("http://127.0.0.1:0", nil)
	if _, err := p.Personalize(context.Background(), profile.New(), posting.Job{ID: "j1"}); err == nil {
		t.Fatal("expected transport error, got nil")
	}
}
