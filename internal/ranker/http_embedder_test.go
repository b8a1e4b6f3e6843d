package ranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPEmbedder_Cosine(t *testing.T) {
	cases := []struct {
		name       string
		embeddings map[string][]float64
		wantMin    float64
		wantMax    float64
	}{
		{
			name: "identical_vectors_similarity_one",
			embeddings: map[string][]float64{
				"go backend engineer": {1, 0, 0},
				"senior go engineer":  {1, 0, 0},
			},
			wantMin: 0.99,
			wantMax: 1.01,
		},
		{
			name: "orthogonal_vectors_similarity_zero",
			embeddings: map[string][]float64{
				"go backend engineer": {1, 0, 0},
				"frontend designer":   {0, 1, 0},
			},
			wantMin: -0.01,
			wantMax: 0.01,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Input string `json:"input"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Fatalf("failed to decode request: %v", err)
				}
				vec, ok := tc.embeddings[req.Input]
				if !ok {
					t.Fatalf("no fixture embedding for input %q", req.Input)
				}
				json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
			}))
			defer srv.Close()

			e := NewHTTPEmbedder(srv.URL, srv.Client())

			var a, b string
			for k := range tc.embeddings {
				if a == "" {
					a = k
				} else {
					b = k
				}
			}

			sim, err := e.Cosine(context.Background(), a, b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sim < tc.wantMin || sim > tc.wantMax {
				t.Fatalf("got similarity %f, want in [%f, %f]", sim, tc.wantMin, tc.wantMax)
			}
		})
	}
}

func TestHTTPEmbedder_Cosine_TransportError(t *testing.T) {
	e := NewHTTPEmbedder("http://127.0.0.1:0", nil)
	if _, err := e.Cosine(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected transport error, got nil")
	}
}

func TestHTTPEmbedder_Cosine_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, srv.Client())
	if _, err := e.Cosine(context.Background(), "a", "b"); err == nil {
		t.Fatal("expected error on non-200 status, got nil")
	}
}

func TestCosine_MismatchedLengthsReturnsZero(t *testing.T) {
	if got := cosine([]float64{1, 2}, []float64{1}); got != 0 {
		t.Fatalf("got %f, want 0", got)
	}
}
