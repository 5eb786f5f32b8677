// Package postgres implements the two node stores the retrieval pipeline
// reads from: the summary_nodes table (one row per indexed document
// section, carrying an embedding for approximate nearest-neighbor search)
// and the page_nodes table (the full page content each summary node
// points at). Queries use pgvector's `<=>` cosine-distance operator via
// raw SQL over lib/pq and database/sql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/vtreesearch/vtreesearch/internal/config"
	"github.com/vtreesearch/vtreesearch/internal/logger"
	"github.com/vtreesearch/vtreesearch/internal/vterrors"
)

// SummaryNode is one row from the summary table, ranked by distance to a
// query embedding. Distance is ascending cosine distance: 0 is an exact
// match, 2 is maximally dissimilar.
type SummaryNode struct {
	NodeID     string
	DocumentID string
	Path       string
	Content    string
	Metadata   *string
	Distance   float64
}

// PageNode is one row from the page table, owned by a summary node.
type PageNode struct {
	NodeID        string
	SummaryNodeID string
	DocumentID    string
	Path          string
	Content       string
	ImageURL      *string
	Metadata      *string
}

// Store wraps the connection pool shared by both node tables.
type Store struct {
	db           *sql.DB
	summaryTable string
	pageTable    string
	log          logger.Logger
}

// Open establishes the connection pool against the configured database and
// applies the pool_min/pool_max/statement_timeout knobs.
func Open(cfg config.PostgresConfig, log logger.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsnWithStatementTimeout(cfg))
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "open postgres", err)
	}

	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)

	return &Store{
		db:           db,
		summaryTable: cfg.SummaryTable,
		pageTable:    cfg.PageTable,
		log:          log,
	}, nil
}

func dsnWithStatementTimeout(cfg config.PostgresConfig) string {
	dsn := cfg.DSN()
	ms := int(cfg.StatementTimeout.Milliseconds())
	return fmt.Sprintf("%s options='-c statement_timeout=%d'", dsn, ms)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity, used by health checks at startup.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "ping postgres", err)
	}
	return nil
}

// SearchSummaryNodes runs an approximate nearest-neighbor search against
// the summary table's embedding column, ordered by ascending cosine
// distance (closest first) with path as the tie-break, and returns at
// most limit rows.
func (s *Store) SearchSummaryNodes(ctx context.Context, queryEmbedding []float32, limit int) ([]SummaryNode, error) {
	literal := vectorLiteral(queryEmbedding)
	query := fmt.Sprintf(`
		SELECT node_id, document_id, path, summary_text, metadata, embedding <=> %s AS distance
		FROM %s
		ORDER BY embedding <=> %s ASC, path ASC
		LIMIT $1`, literal, s.summaryTable, literal)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "search summary nodes", err)
	}
	defer rows.Close()

	var nodes []SummaryNode
	for rows.Next() {
		var n SummaryNode
		var metadata sql.NullString
		if err := rows.Scan(&n.NodeID, &n.DocumentID, &n.Path, &n.Content, &metadata, &n.Distance); err != nil {
			return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "scan summary node", err)
		}
		if metadata.Valid {
			n.Metadata = &metadata.String
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "iterate summary nodes", err)
	}

	return nodes, nil
}

// FetchPagesForParent loads up to limit page rows owned by a single
// summary node, sorted by path ascending. Called once per matched entry
// so the pipeline can fan the reads out across goroutines bounded by
// worker_concurrency.
func (s *Store) FetchPagesForParent(ctx context.Context, parentNodeID string, limit int) ([]PageNode, error) {
	query := fmt.Sprintf(`
		SELECT node_id, parent_node_id, document_id, path, content, image_url, metadata
		FROM %s
		WHERE parent_node_id = $1
		ORDER BY path ASC
		LIMIT $2`, s.pageTable)

	rows, err := s.db.QueryContext(ctx, query, parentNodeID, limit)
	if err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "fetch pages for parent", err)
	}
	defer rows.Close()

	return scanPages(rows)
}

func scanPages(rows *sql.Rows) ([]PageNode, error) {
	var pages []PageNode
	for rows.Next() {
		var p PageNode
		var imageURL, metadata sql.NullString
		if err := rows.Scan(&p.NodeID, &p.SummaryNodeID, &p.DocumentID, &p.Path, &p.Content, &imageURL, &metadata); err != nil {
			return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "scan page node", err)
		}
		if imageURL.Valid {
			p.ImageURL = &imageURL.String
		}
		if metadata.Valid {
			p.Metadata = &metadata.String
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, vterrors.Wrapf(vterrors.ErrDependencyUnavailable, "iterate pages", err)
	}
	return pages, nil
}

// vectorLiteral renders a float32 embedding as a pgvector literal, e.g.
// '[0.1,0.2,0.3]'::vector. Parameterizing a vector through database/sql
// args would require a pgvector-aware driver, which the stack doesn't
// carry, so the literal is built directly from trusted numeric input.
func vectorLiteral(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "'[" + strings.Join(parts, ",") + "]'::vector"
}
