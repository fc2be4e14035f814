package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider implements Provider against a local Ollama server.
type OllamaProvider struct {
	client *http.Client
	host   string
	model  string
}

// NewOllamaProvider constructs a Provider backed by an Ollama server at
// host (e.g. "http://localhost:11434") using model for Generate/Stream
// calls that don't specify one.
func NewOllamaProvider(host, model string, timeout time.Duration) *OllamaProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaProvider{
		client: &http.Client{Timeout: timeout},
		host:   host,
		model:  model,
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// ValidateCredentials checks that the Ollama server is reachable; Ollama
// has no API key, so reachability is the whole check.
func (p *OllamaProvider) ValidateCredentials(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", p.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing ollama models: %w", err)
	}
	defer resp.Body.Close()

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding ollama tags response: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

type ollamaGenerateRequest struct {
	Model   string               `json:"model"`
	Prompt  string               `json:"prompt"`
	Stream  bool                 `json:"stream"`
	Options *ollamaGenerateOptions `json:"options,omitempty"`
}

type ollamaGenerateOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Done     bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

func (p *OllamaProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerateResult, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  false,
		Options: toOllamaOptions(opts),
	})
	if err != nil {
		return GenerateResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return GenerateResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return GenerateResult{}, fmt.Errorf("ollama generate: status %d: %s", resp.StatusCode, string(data))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return GenerateResult{}, fmt.Errorf("decoding ollama generate response: %w", err)
	}
	return GenerateResult{Text: out.Response, Model: out.Model, DoneReason: out.DoneReason}, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Stream:  true,
		Options: toOllamaOptions(opts),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama stream: status %d", resp.StatusCode)
	}

	out := make(chan StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			select {
			case out <- StreamChunk{Text: chunk.Response, Done: chunk.Done}:
			case <-ctx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}
	}()
	return out, nil
}

func toOllamaOptions(opts GenerateOptions) *ollamaGenerateOptions {
	if opts.Temperature == 0 && opts.MaxTokens == 0 && len(opts.Stop) == 0 {
		return nil
	}
	return &ollamaGenerateOptions{
		Temperature: opts.Temperature,
		NumPredict:  opts.MaxTokens,
		Stop:        opts.Stop,
	}
}
