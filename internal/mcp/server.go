// Package mcp exposes search and agent operations as MCP tools, bridging
// AI clients (Claude Code, Cursor) with the hybrid search engine, the
// skill registry, and the workflow engine.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meridian-search/meridian/internal/embed"
	"github.com/meridian-search/meridian/internal/skill"
	"github.com/meridian-search/meridian/internal/store"
	"github.com/meridian-search/meridian/internal/workflow"
	"github.com/meridian-search/meridian/pkg/version"
)

// Server is the MCP server for Meridian. It bridges AI clients with the
// skill registry (search, code analysis, report, llm) and the workflow
// engine, plus index diagnostics over the metadata store.
type Server struct {
	mcp      *mcp.Server
	skills   *skill.Registry
	workflow *workflow.Engine
	metadata store.MetadataStore
	embedder embed.Embedder
	logger   *slog.Logger

	resources *resourceIndex
}

// NewServer creates a new MCP server. skills must already have the
// built-in skills registered (search, code_analysis, report, llm,
// relational_query); wf runs workflow templates against the same
// registry.
func NewServer(skills *skill.Registry, wf *workflow.Engine, metadata store.MetadataStore, embedder embed.Embedder) (*Server, error) {
	if skills == nil {
		return nil, errors.New("skill registry is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}

	s := &Server{
		skills:   skills,
		workflow: wf,
		metadata: metadata,
		embedder: embedder,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Meridian",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP SDK server instance.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Serve runs the server on the given transport until ctx is canceled.
// Only "stdio" is currently supported; the MCP protocol requires stdout
// to carry JSON-RPC messages exclusively, so every diagnostic here goes
// through s.logger rather than a print statement.
func (s *Server) Serve(ctx context.Context, transport string) error {
	switch transport {
	case "stdio", "":
		s.logger.Debug("starting MCP server", slog.String("transport", "stdio"))
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	default:
		return fmt.Errorf("unsupported transport %q (supported: stdio)", transport)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Primary search tool. Finds code and documentation across every indexed source using hybrid keyword + semantic retrieval. Use this for most search tasks.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "code_analysis",
		Description: "Parses a snippet of source code and extracts its structural symbols: functions, types, classes, and methods.",
	}, s.mcpCodeAnalysisHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_workflow",
		Description: "Runs a workflow template: a sequence of skill invocations with parameter and step-output interpolation. Returns the full execution record.",
	}, s.mcpRunWorkflowHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Lists every registered source and its per-index-type statistics. Use before searching to verify a source has been indexed.",
	}, s.mcpIndexStatusHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 4))
}

// mcpSearchHandler adapts skill.SearchInput/Output to the MCP tool ABI
// by delegating to the "search" skill registered in s.skills.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input skill.SearchInput) (
	*mcp.CallToolResult, skill.SearchOutput, error,
) {
	out, err := invokeSkillAs[skill.SearchOutput](ctx, s.skills, "search", input)
	if err != nil {
		return nil, skill.SearchOutput{}, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) mcpCodeAnalysisHandler(ctx context.Context, _ *mcp.CallToolRequest, input skill.CodeAnalysisInput) (
	*mcp.CallToolResult, skill.CodeAnalysisOutput, error,
) {
	out, err := invokeSkillAs[skill.CodeAnalysisOutput](ctx, s.skills, "code_analysis", input)
	if err != nil {
		return nil, skill.CodeAnalysisOutput{}, MapError(err)
	}
	return nil, out, nil
}

// RunWorkflowInput is the declared input for the run_workflow MCP tool.
type RunWorkflowInput struct {
	TemplatePath string         `json:"template_path" jsonschema:"path to a workflow template YAML file"`
	Parameters   map[string]any `json:"parameters,omitempty" jsonschema:"template parameter values"`
}

// RunWorkflowOutput is the declared output for the run_workflow MCP tool.
type RunWorkflowOutput struct {
	RunID        string                `json:"run_id"`
	TemplateName string                `json:"template_name"`
	Failed       bool                  `json:"failed"`
	Steps        []workflow.StepRecord `json:"steps"`
	Output       any                   `json:"output,omitempty"`
}

func (s *Server) mcpRunWorkflowHandler(ctx context.Context, _ *mcp.CallToolRequest, input RunWorkflowInput) (
	*mcp.CallToolResult, RunWorkflowOutput, error,
) {
	if s.workflow == nil {
		return nil, RunWorkflowOutput{}, NewInternalError(errors.New("workflow engine is not configured"))
	}
	if input.TemplatePath == "" {
		return nil, RunWorkflowOutput{}, NewInvalidParamsError("template_path parameter is required")
	}

	tmpl, err := workflow.LoadTemplate(input.TemplatePath)
	if err != nil {
		return nil, RunWorkflowOutput{}, NewInvalidParamsError(err.Error())
	}

	record, err := s.workflow.Run(ctx, tmpl, input.Parameters)
	if err != nil && len(record.Steps) == 0 {
		// Parameter resolution or composition validation failed before
		// any step ran; there is no partial record worth returning.
		return nil, RunWorkflowOutput{}, MapError(err)
	}

	return nil, RunWorkflowOutput{
		RunID:        record.RunID,
		TemplateName: record.TemplateName,
		Failed:       record.Failed,
		Steps:        record.Steps,
		Output:       record.Output,
	}, nil
}

// IndexStatusInput is the declared input for the index_status MCP tool.
type IndexStatusInput struct{}

// IndexStatusOutput is the declared output for the index_status MCP tool.
type IndexStatusOutput struct {
	Sources       []SourceStatus `json:"sources"`
	EmbedderModel string         `json:"embedder_model,omitempty"`
	EmbedderReady bool           `json:"embedder_ready"`
}

// SourceStatus summarizes one registered source for the index_status tool.
type SourceStatus struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Path         string `json:"path"`
	Enabled      bool   `json:"enabled"`
	LexicalFiles int    `json:"lexical_files"`
	VectorFiles  int    `json:"vector_files"`
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult, IndexStatusOutput, error,
) {
	sources, err := s.metadata.ListSources(ctx, store.SourceFilter{})
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}

	out := IndexStatusOutput{Sources: make([]SourceStatus, 0, len(sources))}
	if s.embedder != nil {
		out.EmbedderModel = s.embedder.ModelName()
		out.EmbedderReady = s.embedder.Available(ctx)
	}

	for _, src := range sources {
		status := SourceStatus{ID: src.ID, Name: src.Name, Path: src.Path, Enabled: src.Enabled}
		stats, err := s.metadata.GetStats(ctx, src.ID)
		if err != nil {
			s.logger.Warn("fetching source stats", slog.Int64("source_id", src.ID), slog.String("error", err.Error()))
		}
		for _, st := range stats {
			switch st.IndexType {
			case store.IndexTypeLexical:
				status.LexicalFiles = st.TotalFiles
			case store.IndexTypeVector:
				status.VectorFiles = st.TotalFiles
			}
		}
		out.Sources = append(out.Sources, status)
	}
	return nil, out, nil
}

// invokeSkillAs looks up name in registry, round-trips input through
// JSON to build the map[string]any Execute expects, and round-trips the
// result back into T, so each MCP handler stays a thin, typed adapter
// over the shared skill implementation rather than a second copy of it.
// Go methods cannot carry their own type parameters, so this is a
// package-level function taking the registry explicitly.
func invokeSkillAs[T any](ctx context.Context, registry *skill.Registry, name string, input any) (T, error) {
	var zero T
	sk, ok := registry.Lookup(name)
	if !ok {
		return zero, NewMethodNotFoundError(name)
	}

	data, err := json.Marshal(input)
	if err != nil {
		return zero, err
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return zero, err
	}

	result, err := sk.Execute(ctx, args)
	if err != nil {
		return zero, err
	}

	data, err = json.Marshal(result)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, err
	}
	return out, nil
}
