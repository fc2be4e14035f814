// Package search provides the hybrid search engine: parallel keyword and
// semantic retrieval fused by reciprocal-rank fusion over a shared
// doc_id identity, per the filter algebra shared with the lexical and
// vector stores.
package search

import (
	"context"
)

// Mode selects which retrieval arms a query runs.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// Filters is the query-time filter predicate, sharing the same
// union/intersect algebra as store.LexicalFilter and store.VectorFilter:
// repository names and source IDs union within the source dimension;
// folder prefix and extensions intersect with that union.
type Filters struct {
	Repositories []string
	SourceIDs    []int64
	FolderPrefix string
	Extensions   []string
}

// Weights configures the relative importance of keyword vs semantic
// retrieval in the RRF fusion. The two should sum to 1; defaults to
// w_k=0.4, w_s=0.6 per the fusion contract.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights returns the fusion contract's default weights.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.4, Semantic: 0.6}
}

// DefaultRRFConstant is the fusion contract's smoothing constant.
const DefaultRRFConstant = 60

// Query is a single hybrid-search request.
type Query struct {
	Text     string
	Mode     Mode
	Limit    int
	MinScore float64
	Filters  Filters
	Weights  *Weights // nil uses DefaultWeights
}

// Result is one ranked, hydrated search result.
type Result struct {
	DocID          string
	Score          float64
	KeywordRank    int // 1-indexed, 0 if absent from the keyword list
	SemanticRank   int // 1-indexed, 0 if absent from the semantic list
	RepositoryName string
	SourcePath     string
	RelPath        string
	Snippet        string
	MTime          int64
	MatchedTerms   []string
}

// Response is the engine's answer to a Query.
type Response struct {
	Results  []Result
	Degraded bool // true when one retrieval arm failed and the other carried the request
}

// Engine serves queries across the lexical and vector indexes.
type Engine interface {
	Search(ctx context.Context, q Query) (Response, error)
	Close() error
}
