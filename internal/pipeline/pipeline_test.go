package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/postgres"
	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
)

type fakeStore struct {
	entries []postgres.SummaryNode
	pages   map[string][]postgres.PageNode
	err     error
}

func (f *fakeStore) SearchSummaryNodes(_ context.Context, _ []float32, limit int) ([]postgres.SummaryNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeStore) FetchPagesForParent(_ context.Context, parentNodeID string, limit int) ([]postgres.PageNode, error) {
	pages := f.pages[parentNodeID]
	if limit < len(pages) {
		pages = pages[:limit]
	}
	return pages, nil
}

func newSubmission() *searchmodel.Submission {
	return &searchmodel.Submission{
		JobID:             "job-1",
		QueryText:         "what is the refund policy",
		QueryEmbedding:    []float32{0.1, 0.2},
		TopK:              5,
		EntryLimit:        10,
		PageLimit:         10,
		WorkerConcurrency: 4,
	}
}

func TestPipelineRunMergesAndSortsByScore(t *testing.T) {
	store := &fakeStore{
		entries: []postgres.SummaryNode{
			{NodeID: "s1", Path: "/doc/a", Distance: 0.2},
			{NodeID: "s2", Path: "/doc/b", Distance: 0.6},
		},
		pages: map[string][]postgres.PageNode{
			"s1": {{NodeID: "p1", Path: "/doc/a/1", Content: "alpha"}},
			"s2": {{NodeID: "p2", Path: "/doc/b/1", Content: "bravo"}},
		},
	}

	p := New(store, &logger.NoOpLogger{})
	candidates, m, err := p.Run(context.Background(), newSubmission())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if m.EntryCount != 2 || m.PageCount != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0].NodeID != "p1" {
		t.Fatalf("expected closer summary's page ranked first, got %q", candidates[0].NodeID)
	}
	if candidates[0].Score <= candidates[1].Score {
		t.Fatalf("expected descending score order, got %v then %v", candidates[0].Score, candidates[1].Score)
	}
}

func TestPipelineRunNoEntriesShortCircuits(t *testing.T) {
	store := &fakeStore{}
	p := New(store, &logger.NoOpLogger{})
	candidates, m, err := p.Run(context.Background(), newSubmission())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if candidates != nil {
		t.Fatalf("expected nil candidates, got %v", candidates)
	}
	if m.EntryCount != 0 {
		t.Fatalf("expected zero entry count, got %d", m.EntryCount)
	}
}

func TestPipelineRunTruncatesToPageLimit(t *testing.T) {
	entries := make([]postgres.SummaryNode, 3)
	pages := make(map[string][]postgres.PageNode)
	for i := range entries {
		id := fmt.Sprintf("s%d", i)
		entries[i] = postgres.SummaryNode{NodeID: id, Path: fmt.Sprintf("/doc/%d", i), Distance: float64(i) * 0.1}
		pages[id] = []postgres.PageNode{{NodeID: id + "-p", Path: id + "/1", Content: "x"}}
	}
	store := &fakeStore{entries: entries, pages: pages}

	sub := newSubmission()
	sub.PageLimit = 2
	p := New(store, &logger.NoOpLogger{})
	candidates, _, err := p.Run(context.Background(), sub)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected page_limit truncation to 2, got %d", len(candidates))
	}
}

func TestPipelineRunPropagatesSearchError(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("connection refused")}
	p := New(store, &logger.NoOpLogger{})
	if _, _, err := p.Run(context.Background(), newSubmission()); err == nil {
		t.Fatal("expected error from SearchSummaryNodes to propagate")
	}
}
