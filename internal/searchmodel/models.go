// Package searchmodel holds the wire-level DTOs for search submissions,
// candidates, metrics, and job responses: every shape that crosses the
// queue or API boundary, serialized as JSON.
package searchmodel

import "github.com/vtreesearch/vtreesearch/internal/jobmodel"

// PostgresParams is a frozen snapshot of the connection parameters in
// effect at submission time, carried on the payload for observability
// and reproducibility across retries. The worker still reads through
// the process-wide shared pool (internal/engine wires one
// postgres.Store for the process lifetime); this is not reopened per job.
type PostgresParams struct {
	DSN                string `json:"dsn"`
	SummaryTable       string `json:"summary_table"`
	PageTable          string `json:"page_table"`
	PoolMin            int    `json:"pool_min"`
	PoolMax            int    `json:"pool_max"`
	ConnectTimeoutMS   int    `json:"connect_timeout_ms"`
	StatementTimeoutMS int    `json:"statement_timeout_ms"`
}

// Submission is the payload enqueued onto the job stream: everything a
// worker needs to run the two-stage retrieval pipeline for one query,
// frozen at submission time so retries replay the exact same request.
type Submission struct {
	JobID             string                 `json:"job_id"`
	QueryText         string                 `json:"question"`
	QueryEmbedding    []float32              `json:"query_embedding"`
	TopK              int                    `json:"top_k"`
	EntryLimit        int                    `json:"entry_limit"`
	PageLimit         int                    `json:"page_limit"`
	WorkerConcurrency int                    `json:"worker_concurrency"`
	Postgres          PostgresParams         `json:"postgres"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Validate enforces the submission invariants: a non-empty query, a
// non-empty embedding, and top_k >= 1.
func (s *Submission) Validate(embeddingDim int) error {
	if s.QueryText == "" {
		return errEmptyQueryText
	}
	if len(s.QueryEmbedding) == 0 {
		return errEmptyEmbedding
	}
	if embeddingDim > 0 && len(s.QueryEmbedding) != embeddingDim {
		return errEmbeddingDimMismatch
	}
	if s.TopK < 1 {
		return errInvalidTopK
	}
	return nil
}

// Accepted is returned synchronously from a successful submission.
type Accepted struct {
	JobID       string         `json:"job_id"`
	State       jobmodel.State `json:"state"`
	SubmittedAt string         `json:"submitted_at"`
}

// Status is the point-in-time view returned by GetJob.
type Status struct {
	JobID     string         `json:"job_id"`
	State     jobmodel.State `json:"state"`
	Retries   int            `json:"retries"`
	Canceled  bool           `json:"canceled"`
	UpdatedAt string         `json:"updated_at"`
	LastError string         `json:"last_error,omitempty"`
}

// Candidate is one ranked result returned to the caller.
type Candidate struct {
	NodeID   string  `json:"node_id"`
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
	Content  string  `json:"content,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Metrics accounts for the shape of the retrieval pipeline that produced a
// result: how many summary nodes matched, how many pages were scanned, how
// many survived the relevance filter, and how long it took.
type Metrics struct {
	EntryCount int   `json:"entry_count"`
	PageCount  int   `json:"page_count"`
	KeptCount  int   `json:"kept_count"`
	ElapsedMS  int64 `json:"elapsed_ms"`
}

// Result is the terminal SUCCEEDED payload stored as result_json and
// returned by FetchResult.
type Result struct {
	JobID       string         `json:"job_id"`
	State       jobmodel.State `json:"state"`
	Candidates  []Candidate    `json:"candidates"`
	Metrics     Metrics        `json:"metrics"`
	CompletedAt string         `json:"completed_at"`
}

// Canceled is returned by CancelJob. State is CANCELED when the job was
// still PENDING and was canceled immediately; for a RUNNING job it is
// still RUNNING, with the cancel flag set for the worker to observe; for
// a job already in a terminal state it is that state, unchanged.
type Canceled struct {
	JobID   string         `json:"job_id"`
	State   jobmodel.State `json:"state"`
	Message string         `json:"message"`
}
