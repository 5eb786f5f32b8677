// Package pipeline implements the two-stage retrieval that each worker
// runs once per search job: an ANN-style search over summary embeddings
// to pick the most relevant document subtrees, followed by a bounded,
// concurrent page fetch under the matched summaries.
package pipeline

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/postgres"
	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
)

// Store is the subset of *postgres.Store the pipeline depends on,
// narrowed to an interface so tests can substitute a fake repository
// instead of a live database.
type Store interface {
	SearchSummaryNodes(ctx context.Context, queryEmbedding []float32, limit int) ([]postgres.SummaryNode, error)
	FetchPagesForParent(ctx context.Context, parentNodeID string, limit int) ([]postgres.PageNode, error)
}

// Pipeline runs the summary-ANN / page-scan retrieval for one submission.
type Pipeline struct {
	store Store
	log   logger.Logger
}

// New builds a Pipeline over the given store.
func New(store Store, log logger.Logger) *Pipeline {
	return &Pipeline{store: store, log: log}
}

type pageHit struct {
	page  postgres.PageNode
	score float64
}

// Run executes both retrieval stages for one submission and returns the
// pre-filter candidate set plus the metrics describing its shape.
// Elapsed time covers only these two stages, not the relevance filter.
func (p *Pipeline) Run(ctx context.Context, sub *searchmodel.Submission) ([]searchmodel.Candidate, searchmodel.Metrics, error) {
	start := time.Now()

	entries, err := p.store.SearchSummaryNodes(ctx, sub.QueryEmbedding, sub.EntryLimit)
	if err != nil {
		return nil, searchmodel.Metrics{}, err
	}

	metrics := searchmodel.Metrics{EntryCount: len(entries)}
	if len(entries) == 0 {
		metrics.ElapsedMS = time.Since(start).Milliseconds()
		return nil, metrics, nil
	}

	hits, err := p.fetchPages(ctx, entries, sub)
	if err != nil {
		return nil, searchmodel.Metrics{}, err
	}

	candidates := toCandidates(hits)
	metrics.PageCount = len(candidates)
	metrics.ElapsedMS = time.Since(start).Milliseconds()
	return candidates, metrics, nil
}

// fetchPages fans the page reads out across goroutines bounded by
// worker_concurrency, one per matched summary entry, then merges and
// truncates to page_limit sorted by (parent score desc, page path asc).
func (p *Pipeline) fetchPages(ctx context.Context, entries []postgres.SummaryNode, sub *searchmodel.Submission) ([]pageHit, error) {
	concurrency := sub.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	perEntry := make([][]pageHit, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, entry := range entries {
		i, entry := i, entry
		score := cosineScore(entry.Distance)
		g.Go(func() error {
			pages, err := p.store.FetchPagesForParent(gctx, entry.NodeID, sub.PageLimit)
			if err != nil {
				return err
			}
			hits := make([]pageHit, len(pages))
			for j, pg := range pages {
				hits[j] = pageHit{page: pg, score: score}
			}
			perEntry[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []pageHit
	for _, hits := range perEntry {
		all = append(all, hits...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].page.Path < all[j].page.Path
	})

	if len(all) > sub.PageLimit {
		all = all[:sub.PageLimit]
	}
	return all, nil
}

func toCandidates(hits []pageHit) []searchmodel.Candidate {
	candidates := make([]searchmodel.Candidate, len(hits))
	for i, hit := range hits {
		c := searchmodel.Candidate{
			NodeID:  hit.page.NodeID,
			Path:    hit.page.Path,
			Score:   hit.score,
			Content: hit.page.Content,
		}
		if hit.page.ImageURL != nil {
			c.ImageURL = *hit.page.ImageURL
		}
		candidates[i] = c
	}
	return candidates
}

// cosineScore maps a pgvector cosine-distance value (range [0,2]) to the
// [0,1] similarity score the wire contract promises: similarity = 1 -
// distance, then score = (similarity+1)/2.
func cosineScore(distance float64) float64 {
	similarity := 1 - distance
	score := (similarity + 1) / 2
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
