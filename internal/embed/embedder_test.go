package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/steveyegge/watercooler/internal/cache"
)

// embedServer answers /embeddings with a deterministic vector per input:
// [len(input), 1]. Responses are sent in reverse index order to exercise the
// client-side sort.
func embedServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		var resp embeddingResponse
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{float64(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbedTextsOrderedResults(t *testing.T) {
	srv := embedServer(t, nil)
	e, err := New(Config{BaseURL: srv.URL, Model: "m"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, want := range []float64{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d] = %v, want first component %v", i, vecs[i], want)
		}
	}
}

func TestEmbedTextsBatches(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, &calls)
	e, err := New(Config{BaseURL: srv.URL, Model: "m", BatchSize: 2}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 5 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("requests = %d, want 3 batches of <=2", got)
	}
}

func TestEmbedTextsUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, &calls)
	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(Config{BaseURL: srv.URL, Model: "m"}, c, nil)
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{"alpha", "beta"}
	first, err := e.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.EmbedTexts(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (second run fully cached)", got)
	}
	for i := range texts {
		if first[i][0] != second[i][0] {
			t.Errorf("text %d: cached vector differs", i)
		}
	}
}

func TestEmbedTextsPartialCacheHit(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, &calls)
	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(Config{BaseURL: srv.URL, Model: "m"}, c, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.EmbedTexts(context.Background(), []string{"alpha"}); err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedTexts(context.Background(), []string{"alpha", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("requests = %d, want 2 (only the miss refetched)", got)
	}
	if vecs[0][0] != 5 || vecs[1][0] != 5 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resp embeddingResponse
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	e, err := New(Config{BaseURL: srv.URL, Model: "m"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EmbedTexts(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("EmbedTexts after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestEmbedCountMismatchFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp embeddingResponse
		resp.Data = append(resp.Data, struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}{Index: 0, Embedding: []float64{1}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	e, err := New(Config{BaseURL: srv.URL, Model: "m"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EmbedTexts(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"empty", nil, nil, 0},
		{"length mismatch", []float64{1}, []float64{1, 2}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}
