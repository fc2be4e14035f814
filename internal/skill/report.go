package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ReportInput is the declared input shape for the Report skill.
type ReportInput struct {
	Title    string         `json:"title,omitempty" jsonschema:"report title"`
	Sections map[string]any `json:"sections" jsonschema:"named sections of content to render, typically the outputs of earlier workflow steps"`
	Format   string         `json:"format,omitempty" jsonschema:"output format: markdown (default), json, or plain"`
}

// ReportOutput is the declared output shape for the Report skill.
type ReportOutput struct {
	Format  string `json:"format"`
	Content string `json:"content" jsonschema:"the rendered report"`
}

// ReportSkill renders a set of named sections (usually prior workflow
// step outputs) into markdown, JSON, or plain text. It does no I/O and
// requires no host capability.
type ReportSkill struct{}

// NewReportSkill constructs the Report skill.
func NewReportSkill() *ReportSkill { return &ReportSkill{} }

func (s *ReportSkill) Name() string        { return "report" }
func (s *ReportSkill) Description() string { return "Formats named sections of content into a markdown, JSON, or plain-text report." }
func (s *ReportSkill) InputType() reflect.Type      { return reflect.TypeOf(ReportInput{}) }
func (s *ReportSkill) OutputType() reflect.Type     { return reflect.TypeOf(ReportOutput{}) }
func (s *ReportSkill) RequiredCapabilities() []string { return nil }

func (s *ReportSkill) Execute(ctx context.Context, input map[string]any) (any, error) {
	raw, ok := input["sections"]
	if !ok {
		return nil, &SkillExecutionError{Skill: s.Name(), Message: "missing required input \"sections\""}
	}
	sections, ok := raw.(map[string]any)
	if !ok {
		return nil, &SkillExecutionError{Skill: s.Name(), Message: "input \"sections\" must be an object"}
	}

	format := optionalString(input, "format", "markdown")
	title := optionalString(input, "title", "")

	var content string
	switch format {
	case "markdown":
		content = renderMarkdown(title, sections)
	case "json":
		rendered, err := renderJSON(title, sections)
		if err != nil {
			return nil, &SkillExecutionError{Skill: s.Name(), Message: "rendering JSON report", Cause: err}
		}
		content = rendered
	case "plain":
		content = renderPlain(title, sections)
	default:
		return nil, &SkillExecutionError{Skill: s.Name(), Message: fmt.Sprintf("unsupported format %q: must be markdown, json, or plain", format)}
	}

	return ReportOutput{Format: format, Content: content}, nil
}

func sortedKeys(sections map[string]any) []string {
	keys := make([]string, 0, len(sections))
	for k := range sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderMarkdown(title string, sections map[string]any) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	for _, name := range sortedKeys(sections) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", name, formatValue(sections[name]))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderPlain(title string, sections map[string]any) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "%s\n%s\n\n", title, strings.Repeat("=", len(title)))
	}
	for _, name := range sortedKeys(sections) {
		fmt.Fprintf(&b, "%s:\n%s\n\n", name, formatValue(sections[name]))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderJSON(title string, sections map[string]any) (string, error) {
	doc := map[string]any{"sections": sections}
	if title != "" {
		doc["title"] = title
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
