package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// CodeTokenizerName is the name of the custom code tokenizer.
	CodeTokenizerName = "code_tokenizer"

	// CodeStopFilterName is the name of the custom stop word filter.
	CodeStopFilterName = "code_stop"

	// CodeAnalyzerName is the name of the custom code analyzer.
	CodeAnalyzerName = "code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// bleveLexicalDocument is the document shape indexed into Bleve: the
// analyzed content field plus the filterable attributes stored as
// unanalyzed keyword fields.
type bleveLexicalDocument struct {
	FileName       string `json:"file_name"`
	Content        string `json:"content"`
	FolderName     string `json:"folder_name"`
	SourceType     string `json:"source_type"`
	SourceID       int64  `json:"source_id"`
	RepositoryName string `json:"repository_name"`
	Extension      string `json:"extension"`
	MTime          int64  `json:"mtime"`
	Size           int64  `json:"size"`
}

// BleveLexicalStore implements LexicalStore with Bleve v2, using a
// code-aware custom analyzer on the content field and keyword mapping on
// the filterable attribute fields.
type BleveLexicalStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ LexicalStore = (*BleveLexicalStore)(nil)

// NewBleveLexicalStore opens (or creates) a Bleve-backed lexical store at
// path. An empty path creates an in-memory index, used by tests.
func NewBleveLexicalStore(path string, stopWords []string) (*BleveLexicalStore, error) {
	indexMapping, err := createLexicalIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lexical store directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open/create bleve index: %w", err)
	}

	return &BleveLexicalStore{index: idx, path: path}, nil
}

// createLexicalIndexMapping builds the mapping: content uses the custom
// code analyzer, every other field is an unanalyzed keyword so it can be
// used for exact-match and range filtering.
func createLexicalIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	if err := indexMapping.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	}); err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = CodeAnalyzerName

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"

	numeric := bleve.NewNumericFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("file_name", keyword)
	docMapping.AddFieldMappingsAt("folder_name", keyword)
	docMapping.AddFieldMappingsAt("source_type", keyword)
	docMapping.AddFieldMappingsAt("repository_name", keyword)
	docMapping.AddFieldMappingsAt("extension", keyword)
	docMapping.AddFieldMappingsAt("source_id", numeric)
	docMapping.AddFieldMappingsAt("mtime", numeric)
	docMapping.AddFieldMappingsAt("size", numeric)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = CodeAnalyzerName

	return indexMapping, nil
}

// IndexDocuments writes documents in one batch. Bleve's Index call on an
// existing ID replaces the prior document, so no explicit delete is
// needed before the insert.
func (b *BleveLexicalStore) IndexDocuments(ctx context.Context, docs []LexicalDocument) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical store is closed")
	}

	batch := b.index.NewBatch()
	for _, d := range docs {
		bd := bleveLexicalDocument{
			FileName:       d.FileName,
			Content:        d.Content,
			FolderName:     d.FolderName,
			SourceType:     string(d.SourceType),
			SourceID:       d.SourceID,
			RepositoryName: d.RepositoryName,
			Extension:      d.Extension,
			MTime:          d.MTime.Unix(),
			Size:           d.Size,
		}
		if err := batch.Index(d.DocID, bd); err != nil {
			return fmt.Errorf("index document %s: %w", d.DocID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// DeleteByDocIDs removes documents by their doc_id, which is also the
// Bleve document ID.
func (b *BleveLexicalStore) DeleteByDocIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("lexical store is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Search issues a conjunctive query: a match query against content,
// intersected with term/numeric-range queries built from filter.
func (b *BleveLexicalStore) Search(ctx context.Context, query string, filter LexicalFilter, limit int) ([]LexicalHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("lexical store is closed")
	}

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")
	matchQuery.Analyzer = CodeAnalyzerName

	conjuncts := []bleve.Query{matchQuery}
	if fq := buildLexicalFilterQuery(filter); fq != nil {
		conjuncts = append(conjuncts, fq)
	}

	var q bleve.Query = matchQuery
	if len(conjuncts) > 1 {
		q = bleve.NewConjunctionQuery(conjuncts...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"file_name"}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField("content")

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	hits := make([]LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		snippet := ""
		if frags, ok := hit.Fragments["content"]; ok && len(frags) > 0 {
			snippet = frags[0]
		}
		hits = append(hits, LexicalHit{DocID: hit.ID, Score: hit.Score, Snippet: snippet})
	}
	return hits, nil
}

// buildLexicalFilterQuery mirrors the filter algebra used by the SQLite
// backend: repository-name and directory-id filters union within the
// source dimension; folder prefix and extension intersect with that union.
func buildLexicalFilterQuery(f LexicalFilter) bleve.Query {
	if f.isEmpty() {
		return nil
	}

	var conjuncts []bleve.Query

	if len(f.Repositories) > 0 || len(f.SourceIDs) > 0 {
		var disjuncts []bleve.Query
		for _, r := range f.Repositories {
			tq := bleve.NewTermQuery(r)
			tq.SetField("repository_name")
			disjuncts = append(disjuncts, tq)
		}
		for _, id := range f.SourceIDs {
			v := float64(id)
			nrq := bleve.NewNumericRangeQuery(&v, &v)
			nrq.SetField("source_id")
			disjuncts = append(disjuncts, nrq)
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(disjuncts...))
	}

	if f.FolderPrefix != "" {
		pq := bleve.NewPrefixQuery(f.FolderPrefix)
		pq.SetField("folder_name")
		conjuncts = append(conjuncts, pq)
	}

	if len(f.Extensions) > 0 {
		var disjuncts []bleve.Query
		for _, ext := range f.Extensions {
			tq := bleve.NewTermQuery(ext)
			tq.SetField("extension")
			disjuncts = append(disjuncts, tq)
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(disjuncts...))
	}

	if len(conjuncts) == 0 {
		return nil
	}
	if len(conjuncts) == 1 {
		return conjuncts[0]
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// Count returns the number of indexed documents.
func (b *BleveLexicalStore) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close releases the underlying index handle.
func (b *BleveLexicalStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// codeTokenizerConstructor creates a new code tokenizer for Bleve.
func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer implements analysis.Tokenizer using the same
// camel-case/snake-case-aware splitting as the lexical SQLite backend, so
// both backends tokenize identically.
type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}

// codeStopFilterConstructor creates a code stop word filter for Bleve.
func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveCodeStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

// bleveCodeStopFilter implements analysis.TokenFilter for code stop words.
type bleveCodeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveCodeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
