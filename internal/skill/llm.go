package skill

import (
	"context"
	"reflect"

	"github.com/meridian-search/meridian/internal/llm"
)

// LLMInput is the declared input shape for the LLM skill.
type LLMInput struct {
	Prompt      string   `json:"prompt" jsonschema:"the prompt to send to the active LLM provider"`
	Temperature float64  `json:"temperature,omitempty" jsonschema:"sampling temperature, default 0"`
	MaxTokens   int      `json:"max_tokens,omitempty" jsonschema:"maximum tokens to generate, default provider-defined"`
	Stop        []string `json:"stop,omitempty" jsonschema:"stop sequences"`
}

// LLMOutput is the declared output shape for the LLM skill.
type LLMOutput struct {
	Text       string `json:"text" jsonschema:"generated text"`
	Model      string `json:"model,omitempty"`
	DoneReason string `json:"done_reason,omitempty"`
}

// LLMSkill invokes the host's currently active LLM provider via llm.Session.
type LLMSkill struct {
	session *llm.Session
}

// NewLLMSkill constructs the LLM skill over session.
func NewLLMSkill(session *llm.Session) *LLMSkill {
	return &LLMSkill{session: session}
}

func (s *LLMSkill) Name() string        { return "llm" }
func (s *LLMSkill) Description() string { return "Generates text from the host's active LLM provider." }
func (s *LLMSkill) InputType() reflect.Type      { return reflect.TypeOf(LLMInput{}) }
func (s *LLMSkill) OutputType() reflect.Type     { return reflect.TypeOf(LLMOutput{}) }
func (s *LLMSkill) RequiredCapabilities() []string { return []string{"llm_session"} }

func (s *LLMSkill) Execute(ctx context.Context, input map[string]any) (any, error) {
	prompt, err := requireString(s.Name(), input, "prompt")
	if err != nil {
		return nil, err
	}

	opts := llm.GenerateOptions{
		Temperature: optionalFloat(input, "temperature", 0),
		MaxTokens:   optionalInt(input, "max_tokens", 0),
		Stop:        optionalStringSlice(input, "stop"),
	}

	result, err := s.session.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, &SkillExecutionError{Skill: s.Name(), Message: "generation failed", Cause: err}
	}
	return LLMOutput{Text: result.Text, Model: result.Model, DoneReason: result.DoneReason}, nil
}

func optionalFloat(input map[string]any, key string, def float64) float64 {
	raw, ok := input[key]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return def
	}
}
