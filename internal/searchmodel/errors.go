package searchmodel

import "errors"

var (
	errEmptyQueryText       = errors.New("searchmodel: query_text must not be empty")
	errEmptyEmbedding       = errors.New("searchmodel: query_embedding must not be empty")
	errEmbeddingDimMismatch = errors.New("searchmodel: query_embedding dimension mismatch")
	errInvalidTopK          = errors.New("searchmodel: top_k must be >= 1")
)
