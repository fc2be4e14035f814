package skill

import (
	"context"
	"reflect"
)

// RelationalQueryInput is the declared input shape for the Relational
// Query skill (spec §4.8). The skill is a placeholder until a relational
// backend is configured; the framework must accept it without special
// casing, the same as any other registered skill.
type RelationalQueryInput struct {
	Query string `json:"query" jsonschema:"the relational query to execute against the configured backend"`
}

// RelationalQueryOutput is the declared output shape; it is never
// populated by the current placeholder implementation.
type RelationalQueryOutput struct {
	Rows []map[string]any `json:"rows"`
}

// RelationalQuerySkill is registered so workflows can reference it by
// name and fail with a clear, typed error rather than an unresolved
// skill lookup, until a real relational backend is wired in.
type RelationalQuerySkill struct{}

// NewRelationalQuerySkill constructs the placeholder Relational Query skill.
func NewRelationalQuerySkill() *RelationalQuerySkill { return &RelationalQuerySkill{} }

func (s *RelationalQuerySkill) Name() string        { return "relational_query" }
func (s *RelationalQuerySkill) Description() string { return "Executes a query against a configured relational backend. No backend is configured; every call fails." }
func (s *RelationalQuerySkill) InputType() reflect.Type      { return reflect.TypeOf(RelationalQueryInput{}) }
func (s *RelationalQuerySkill) OutputType() reflect.Type     { return reflect.TypeOf(RelationalQueryOutput{}) }
func (s *RelationalQuerySkill) RequiredCapabilities() []string { return []string{"relational_backend"} }

func (s *RelationalQuerySkill) Execute(ctx context.Context, input map[string]any) (any, error) {
	return nil, &NotImplementedError{Skill: s.Name()}
}
