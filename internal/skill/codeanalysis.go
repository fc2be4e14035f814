package skill

import (
	"context"
	"reflect"

	"github.com/meridian-search/meridian/internal/chunk"
	"github.com/meridian-search/meridian/internal/scanner"
)

// CodeAnalysisInput is the declared input shape for the Code Analysis skill.
type CodeAnalysisInput struct {
	Path     string `json:"path" jsonschema:"file path (used only to detect language when language is omitted)"`
	Content  string `json:"content" jsonschema:"source code to analyze"`
	Language string `json:"language,omitempty" jsonschema:"programming language override, e.g. go, typescript, python"`
}

// CodeAnalysisOutput is the declared output shape for the Code Analysis skill.
type CodeAnalysisOutput struct {
	Language string       `json:"language"`
	Symbols  []SymbolItem `json:"symbols" jsonschema:"structural symbols extracted from the source"`
}

// SymbolItem mirrors chunk.Symbol for wire/schema purposes.
type SymbolItem struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Signature  string `json:"signature,omitempty"`
	DocComment string `json:"doc_comment,omitempty"`
}

// CodeAnalysisSkill extracts structural symbols (functions, types,
// methods, ...) from source text via tree-sitter parsing.
type CodeAnalysisSkill struct {
	parser    *chunk.Parser
	extractor *chunk.SymbolExtractor
}

// NewCodeAnalysisSkill constructs the Code Analysis skill.
func NewCodeAnalysisSkill(parser *chunk.Parser, extractor *chunk.SymbolExtractor) *CodeAnalysisSkill {
	return &CodeAnalysisSkill{parser: parser, extractor: extractor}
}

func (s *CodeAnalysisSkill) Name() string        { return "code_analysis" }
func (s *CodeAnalysisSkill) Description() string { return "Parses source code and extracts its structural symbols: functions, types, classes, and methods." }
func (s *CodeAnalysisSkill) InputType() reflect.Type      { return reflect.TypeOf(CodeAnalysisInput{}) }
func (s *CodeAnalysisSkill) OutputType() reflect.Type     { return reflect.TypeOf(CodeAnalysisOutput{}) }
func (s *CodeAnalysisSkill) RequiredCapabilities() []string { return nil }

func (s *CodeAnalysisSkill) Execute(ctx context.Context, input map[string]any) (any, error) {
	content, err := requireString(s.Name(), input, "content")
	if err != nil {
		return nil, err
	}

	language := optionalString(input, "language", "")
	if language == "" {
		path := optionalString(input, "path", "")
		language = scanner.DetectLanguage(path)
	}
	if language == "" {
		return nil, &SkillExecutionError{Skill: s.Name(), Message: "could not determine language from path or language input"}
	}

	source := []byte(content)
	tree, err := s.parser.Parse(ctx, source, language)
	if err != nil {
		return nil, &SkillExecutionError{Skill: s.Name(), Message: "parsing source", Cause: err}
	}

	symbols := s.extractor.Extract(tree, source)
	out := CodeAnalysisOutput{Language: language, Symbols: make([]SymbolItem, len(symbols))}
	for i, sym := range symbols {
		out.Symbols[i] = SymbolItem{
			Name:       sym.Name,
			Type:       string(sym.Type),
			StartLine:  sym.StartLine,
			EndLine:    sym.EndLine,
			Signature:  sym.Signature,
			DocComment: sym.DocComment,
		}
	}
	return out, nil
}
