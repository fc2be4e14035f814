package skill

import (
	"context"
	"reflect"

	"github.com/meridian-search/meridian/internal/search"
)

// SearchInput is the declared input shape for the Search skill, tagged
// the way the MCP tool surface tags its own request structs.
type SearchInput struct {
	Query        string   `json:"query" jsonschema:"the search query to execute"`
	Mode         string   `json:"mode,omitempty" jsonschema:"retrieval mode: keyword, semantic, or hybrid (default)"`
	Limit        int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Repositories []string `json:"repositories,omitempty" jsonschema:"filter by repository/source name"`
	Extensions   []string `json:"extensions,omitempty" jsonschema:"filter by file extension, e.g. .go, .md"`
	FolderPrefix string   `json:"folder_prefix,omitempty" jsonschema:"filter results to paths under this prefix"`
}

// SearchOutput is the declared output shape for the Search skill.
type SearchOutput struct {
	Results  []SearchResultItem `json:"results" jsonschema:"ranked search results"`
	Degraded bool               `json:"degraded,omitempty" jsonschema:"true if one retrieval arm failed and the other carried the query"`
}

// SearchResultItem mirrors search.Result for wire/schema purposes.
type SearchResultItem struct {
	DocID          string   `json:"doc_id"`
	Score          float64  `json:"score"`
	RepositoryName string   `json:"repository_name,omitempty"`
	RelPath        string   `json:"rel_path"`
	Snippet        string   `json:"snippet,omitempty"`
	MatchedTerms   []string `json:"matched_terms,omitempty"`
}

// SearchSkill wraps a search.Engine (the hybrid lexical+vector engine in
// production) as a workflow-invokable capability.
type SearchSkill struct {
	engine search.Engine
}

// NewSearchSkill constructs the Search skill over engine.
func NewSearchSkill(engine search.Engine) *SearchSkill {
	return &SearchSkill{engine: engine}
}

func (s *SearchSkill) Name() string        { return "search" }
func (s *SearchSkill) Description() string { return "Searches indexed sources by keyword, semantic similarity, or both, and returns ranked results." }
func (s *SearchSkill) InputType() reflect.Type  { return reflect.TypeOf(SearchInput{}) }
func (s *SearchSkill) OutputType() reflect.Type { return reflect.TypeOf(SearchOutput{}) }
func (s *SearchSkill) RequiredCapabilities() []string { return []string{"search_engine"} }

func (s *SearchSkill) Execute(ctx context.Context, input map[string]any) (any, error) {
	query, err := requireString(s.Name(), input, "query")
	if err != nil {
		return nil, err
	}

	mode := search.Mode(optionalString(input, "mode", string(search.ModeHybrid)))
	switch mode {
	case search.ModeKeyword, search.ModeSemantic, search.ModeHybrid:
	default:
		return nil, &SkillExecutionError{Skill: s.Name(), Message: "mode must be one of keyword, semantic, hybrid"}
	}

	resp, err := s.engine.Search(ctx, search.Query{
		Text:  query,
		Mode:  mode,
		Limit: optionalInt(input, "limit", 10),
		Filters: search.Filters{
			Repositories: optionalStringSlice(input, "repositories"),
			Extensions:   optionalStringSlice(input, "extensions"),
			FolderPrefix: optionalString(input, "folder_prefix", ""),
		},
	})
	if err != nil {
		return nil, &SkillExecutionError{Skill: s.Name(), Message: "search failed", Cause: err}
	}

	out := SearchOutput{Results: make([]SearchResultItem, len(resp.Results)), Degraded: resp.Degraded}
	for i, r := range resp.Results {
		out.Results[i] = SearchResultItem{
			DocID:          r.DocID,
			Score:          r.Score,
			RepositoryName: r.RepositoryName,
			RelPath:        r.RelPath,
			Snippet:        r.Snippet,
			MatchedTerms:   r.MatchedTerms,
		}
	}
	return out, nil
}
