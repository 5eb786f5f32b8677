package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
)

func candidates(ids ...string) []searchmodel.Candidate {
	out := make([]searchmodel.Candidate, len(ids))
	for i, id := range ids {
		out[i] = searchmodel.Candidate{NodeID: id, Path: "/" + id, Score: 0.5, Content: "content for " + id}
	}
	return out
}

func TestRunKeepsAndRanksByScore(t *testing.T) {
	cands := []searchmodel.Candidate{
		{NodeID: "a", Path: "/a", Score: 0.4},
		{NodeID: "b", Path: "/b", Score: 0.9},
		{NodeID: "c", Path: "/c", Score: 0.2},
	}
	judge := NewStaticJudge([]Verdict{
		{NodeID: "a", Keep: true, Reason: "relevant"},
		{NodeID: "b", Keep: true, Reason: "very relevant"},
		{NodeID: "c", Keep: false, Reason: "off topic"},
	})

	kept, err := Run(context.Background(), judge.Judge, "question", cands, 10)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept candidates, got %d", len(kept))
	}
	if kept[0].NodeID != "b" || kept[1].NodeID != "a" {
		t.Fatalf("expected descending score order b,a; got %s,%s", kept[0].NodeID, kept[1].NodeID)
	}
	if kept[0].Reason != "very relevant" {
		t.Fatalf("expected judge reason to be copied onto kept candidate, got %q", kept[0].Reason)
	}
}

func TestRunTruncatesToTopK(t *testing.T) {
	cands := candidates("a", "b", "c")
	verdicts := []Verdict{
		{NodeID: "a", Keep: true, Reason: "r"},
		{NodeID: "b", Keep: true, Reason: "r"},
		{NodeID: "c", Keep: true, Reason: "r"},
	}
	judge := NewStaticJudge(verdicts)

	kept, err := Run(context.Background(), judge.Judge, "q", cands, 2)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("expected top_k=2 truncation, got %d", len(kept))
	}
}

func TestRunEmptyCandidatesSkipsJudge(t *testing.T) {
	called := false
	judge := func(_ context.Context, _ string, _ []searchmodel.Candidate) ([]Verdict, error) {
		called = true
		return nil, nil
	}
	kept, err := Run(context.Background(), judge, "q", nil, 5)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if kept != nil {
		t.Fatalf("expected nil kept, got %v", kept)
	}
	if called {
		t.Fatal("expected judge not to be invoked for an empty candidate set")
	}
}

func TestRunPropagatesJudgeError(t *testing.T) {
	judge := NewFailingJudge(errors.New("upstream timeout"))
	_, err := Run(context.Background(), judge.Judge, "q", candidates("a"), 5)
	if err == nil {
		t.Fatal("expected judge error to propagate")
	}
}

func TestValidateRejectsMissingVerdict(t *testing.T) {
	err := validate(candidates("a", "b"), []Verdict{{NodeID: "a", Keep: true, Reason: "r"}})
	if err == nil {
		t.Fatal("expected error for missing verdict on node b")
	}
}

func TestValidateRejectsDuplicateVerdict(t *testing.T) {
	err := validate(candidates("a"), []Verdict{
		{NodeID: "a", Keep: true, Reason: "r"},
		{NodeID: "a", Keep: false, Reason: "r2"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate verdict on node a")
	}
}

func TestValidateRejectsUnknownNodeID(t *testing.T) {
	err := validate(candidates("a"), []Verdict{
		{NodeID: "a", Keep: true, Reason: "r"},
		{NodeID: "ghost", Keep: true, Reason: "r"},
	})
	if err == nil {
		t.Fatal("expected error for verdict referencing unknown node_id")
	}
}

func TestValidateRejectsEmptyReason(t *testing.T) {
	err := validate(candidates("a"), []Verdict{{NodeID: "a", Keep: true, Reason: ""}})
	if err == nil {
		t.Fatal("expected error for empty reason")
	}
}

func TestKeepAllJudgeKeepsEveryCandidate(t *testing.T) {
	cands := candidates("a", "b", "c")
	verdicts, err := KeepAllJudge(context.Background(), "q", cands)
	if err != nil {
		t.Fatalf("KeepAllJudge() error = %v", err)
	}
	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
	for _, v := range verdicts {
		if !v.Keep || v.Reason == "" {
			t.Fatalf("expected every verdict kept with a reason, got %+v", v)
		}
	}
}
