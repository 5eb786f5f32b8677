// Package submission implements the Submission API: input validation,
// job-ID minting, payload construction, backpressure rejection, and the
// two writes (state hash, stream append) that hand a search job off to
// the worker loop.
package submission

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/jobmodel"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/metrics"
	"github.com/vtreesearch/vtreesearch/internal/queue"
	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

// Service implements submit_search against a Redis Streams queue.
type Service struct {
	queue      *queue.Queue
	postgres   config.PostgresConfig
	search     config.SearchConfig
	embedDim   int
	moduleName string
	collector  *metrics.Collector
	log        logger.Logger
}

// New builds a submission Service. embedDim is the expected query
// embedding length, validated on every submission alongside top_k. moduleName
// is config.Queue.ModuleName, stamped onto the job record and every stream
// message this service writes.
func New(q *queue.Queue, pg config.PostgresConfig, search config.SearchConfig, embedDim int, moduleName string, collector *metrics.Collector, log logger.Logger) *Service {
	return &Service{
		queue:      q,
		postgres:   pg,
		search:     search,
		embedDim:   embedDim,
		moduleName: moduleName,
		collector:  collector,
		log:        log.WithComponent(logger.ComponentSubmission),
	}
}

// SubmitSearch validates the request, checks backpressure, mints a
// job_id, writes the PENDING state hash, and appends the stream message.
// If the stream append fails after the hash write, the orphaned hash is
// harmless: it carries a TTL and will expire on its own, and the caller
// sees the failure and may resubmit with a new job_id.
func (s *Service) SubmitSearch(ctx context.Context, questionText string, queryEmbedding []float32, topK int, metadata map[string]interface{}) (*searchmodel.Accepted, error) {
	sub := &searchmodel.Submission{
		QueryText:         questionText,
		QueryEmbedding:    queryEmbedding,
		TopK:              topK,
		EntryLimit:        s.search.EntryLimit,
		PageLimit:         s.search.PageLimit,
		WorkerConcurrency: s.search.WorkerConcurrency,
		Postgres:          s.postgresParams(),
		Metadata:          metadata,
	}
	if err := sub.Validate(s.embedDim); err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrConfiguration, "invalid submission", err)
	}

	if err := s.queue.GuardCapacity(ctx); err != nil {
		return nil, err
	}

	jobID, err := mintJobID()
	if err != nil {
		return nil, fmt.Errorf("mint job_id: %w", err)
	}
	sub.JobID = jobID

	payloadJSON, err := queue.MarshalPayload(sub)
	if err != nil {
		return nil, err
	}

	if err := s.queue.CreateJobRecord(ctx, jobID, payloadJSON, s.moduleName); err != nil {
		return nil, err
	}

	if _, err := s.queue.Enqueue(ctx, jobID, payloadJSON, 0, s.moduleName); err != nil {
		s.log.ErrorContext(ctx, "stream append failed after job record write; record will expire by TTL",
			"job_id", jobID, "error", err)
		return nil, err
	}

	s.collector.RecordJobSubmitted()
	s.log.InfoContext(ctx, "search job submitted", "job_id", jobID, "top_k", topK)

	return &searchmodel.Accepted{
		JobID:       jobID,
		State:       jobmodel.StatePending,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (s *Service) postgresParams() searchmodel.PostgresParams {
	return searchmodel.PostgresParams{
		DSN:                s.postgres.DSN(),
		SummaryTable:       s.postgres.SummaryTable,
		PageTable:          s.postgres.PageTable,
		PoolMin:            s.postgres.PoolMin,
		PoolMax:            s.postgres.PoolMax,
		ConnectTimeoutMS:   int(s.postgres.ConnectTimeout.Milliseconds()),
		StatementTimeoutMS: int(s.postgres.StatementTimeout.Milliseconds()),
	}
}

// mintJobID returns a 128-bit random value rendered as lowercase hex.
func mintJobID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
