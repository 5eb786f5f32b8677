// Package filter implements the relevance-judge adapter: it marshals the
// pre-filter candidate set into the LLM's JSON contract, invokes an
// injected judge function, and validates the response shape before
// mapping keep/drop decisions back onto candidates.
package filter

import (
	"context"
	"fmt"
	"sort"

	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

// Verdict is one relevance decision returned by the judge for a single
// candidate node.
type Verdict struct {
	NodeID string `json:"node_id"`
	Keep   bool   `json:"keep"`
	Reason string `json:"reason"`
}

// Judge is the injected relevance capability: given the question and the
// pre-filter candidates, it returns one verdict per candidate. HTTPJudge,
// StaticJudge, and any test fake all satisfy this same signature; there
// is no duck-typed "LLM object", just a function.
type Judge func(ctx context.Context, question string, candidates []searchmodel.Candidate) ([]Verdict, error)

// Run invokes judge and applies it to candidates, producing the final
// kept, ranked, top_k-truncated result; its length is the kept_count the
// caller records in metrics. If candidates is empty the judge is not
// invoked at all.
func Run(ctx context.Context, judge Judge, question string, candidates []searchmodel.Candidate, topK int) ([]searchmodel.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	verdicts, err := judge(ctx, question, candidates)
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrRetriablePipeline, "relevance judge call", err)
	}

	if err := validate(candidates, verdicts); err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrRetriablePipeline, "relevance judge response", err)
	}

	byID := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.NodeID] = v
	}

	kept := make([]searchmodel.Candidate, 0, len(candidates))
	for _, c := range candidates {
		v := byID[c.NodeID]
		if !v.Keep {
			continue
		}
		c.Reason = v.Reason
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Path < kept[j].Path
	})

	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept, nil
}

// KeepAllJudge returns every candidate as kept with a fixed reason. Used
// when the relevance-filter call is administratively disabled
// (FilterConfig.Enabled = false) rather than leaving the pipeline with
// no judge at all.
func KeepAllJudge(ctx context.Context, _ string, candidates []searchmodel.Candidate) ([]Verdict, error) {
	verdicts := make([]Verdict, len(candidates))
	for i, c := range candidates {
		verdicts[i] = Verdict{NodeID: c.NodeID, Keep: true, Reason: "relevance filter disabled"}
	}
	return verdicts, nil
}

// validate enforces the judge response contract: the multiset of
// returned node_ids equals the input multiset exactly (no missing IDs,
// no duplicates, no IDs outside the input set), and every reason is
// non-empty.
func validate(candidates []searchmodel.Candidate, verdicts []Verdict) error {
	want := make(map[string]int, len(candidates))
	for _, c := range candidates {
		want[c.NodeID]++
	}

	got := make(map[string]int, len(verdicts))
	for _, v := range verdicts {
		if v.Reason == "" {
			return fmt.Errorf("empty reason for node_id %q", v.NodeID)
		}
		if _, ok := want[v.NodeID]; !ok {
			return fmt.Errorf("node_id %q not present in input candidate set", v.NodeID)
		}
		got[v.NodeID]++
	}

	for id, n := range want {
		if got[id] != n {
			if got[id] == 0 {
				return fmt.Errorf("missing verdict for node_id %q", id)
			}
			return fmt.Errorf("duplicate verdict for node_id %q", id)
		}
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			return fmt.Errorf("verdict for unknown node_id %q", id)
		}
	}
	return nil
}
