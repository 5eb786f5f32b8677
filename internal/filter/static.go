package filter

import (
	"context"
	"fmt"

	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
)

// StaticJudge replays pre-recorded verdict batches in call order, used in
// tests and offline deployments. It satisfies the same Judge signature
// as HTTPJudge.
type StaticJudge struct {
	responses [][]Verdict
	errs      []error
	calls     int
}

// NewStaticJudge returns a StaticJudge that yields responses[i] on its
// i-th call, repeating the final entry once exhausted.
func NewStaticJudge(responses ...[]Verdict) *StaticJudge {
	return &StaticJudge{responses: responses}
}

// NewFailingJudge returns a StaticJudge whose every call fails with err,
// used to exercise the worker's retry-exhaustion path.
func NewFailingJudge(err error) *StaticJudge {
	return &StaticJudge{errs: []error{err}}
}

// Judge implements the filter.Judge signature.
func (s *StaticJudge) Judge(_ context.Context, _ string, candidates []searchmodel.Candidate) ([]Verdict, error) {
	defer func() { s.calls++ }()

	if len(s.errs) > 0 {
		return nil, s.errs[min(s.calls, len(s.errs)-1)]
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("static judge: no responses configured")
	}
	return s.responses[min(s.calls, len(s.responses)-1)], nil
}
