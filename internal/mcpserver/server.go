// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Waggle canvas tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/beeprep/waggle/internal/canvasservice"
	"github.com/beeprep/waggle/internal/graph"
	"github.com/beeprep/waggle/internal/models"
)

// Server wraps the MCP server with Waggle tools.
type Server struct {
	mcp *server.MCPServer
	svc *canvasservice.Service
}

// New creates a new MCP server with all Waggle tools registered.
func New(svc *canvasservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Waggle",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("canvas_overview",
		mcp.WithDescription("Describe the current canvas: nodes, edges, generator statuses."),
	), s.canvasOverview)

	s.mcp.AddTool(mcp.NewTool("trigger_generation",
		mcp.WithDescription("Trigger generation for a generator node. Generation is "+
			"asynchronous; poll generation_status afterwards. Read the pipeline contract "+
			"first via the get_pipeline_contract tool or the waggle://pipeline-contract "+
			"resource to learn which generations are allowed."),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Id of the generator node to trigger")),
	), s.triggerGeneration)

	s.mcp.AddTool(mcp.NewTool("generation_status",
		mcp.WithDescription("Report the live generation state for every output type."),
	), s.generationStatus)

	s.mcp.AddTool(mcp.NewTool("cancel_generation",
		mcp.WithDescription("Cancel the in-flight job for an output type. Idempotent."),
		mcp.WithString("output_type", mcp.Required(), mcp.Description("Output type to cancel (e.g. quiz, flashcards)")),
	), s.cancelGeneration)

	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last structural canvas change."),
	), s.undo)

	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone canvas change."),
	), s.redo)

	s.mcp.AddTool(mcp.NewTool("get_pipeline_contract",
		mcp.WithDescription("Returns the canonical Waggle pipeline contract. "+
			"Call this before wiring nodes or triggering generations."),
	), s.getPipelineContract)

	// Resource: pipeline contract.
	s.mcp.AddResource(
		mcp.NewResource("waggle://pipeline-contract", "Pipeline Contract",
			mcp.WithResourceDescription("Canonical generation pipeline rules the canvas enforces."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPipelineContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) canvasOverview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view := s.svc.Canvas()

	type nodeLine struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Label  string `json:"label,omitempty"`
		Status string `json:"status,omitempty"`
	}
	type edgeLine struct {
		ID     string `json:"id"`
		Source string `json:"source"`
		Target string `json:"target"`
	}

	overview := struct {
		ProjectID string     `json:"project_id,omitempty"`
		Name      string     `json:"name,omitempty"`
		Locked    bool       `json:"locked"`
		Nodes     []nodeLine `json:"nodes"`
		Edges     []edgeLine `json:"edges"`
	}{
		ProjectID: view.ProjectID,
		Name:      view.Name,
		Locked:    view.Locked,
		Nodes:     []nodeLine{},
		Edges:     []edgeLine{},
	}

	for _, n := range view.Nodes {
		line := nodeLine{ID: n.ID, Kind: string(n.Kind)}
		switch data := n.Data.(type) {
		case graph.AssetData:
			line.Label = data.Name
		case graph.ProcessData:
			line.Label = data.Label
		case graph.ResultData:
			line.Label = data.Label
		case graph.ArtifactData:
			if data.Artifact != nil {
				line.Label = string(data.Artifact.Type)
			}
		case graph.GeneratorData:
			line.Label = string(data.OutputType)
			line.Status = string(data.Status)
		}
		overview.Nodes = append(overview.Nodes, line)
	}
	for _, e := range view.Edges {
		overview.Edges = append(overview.Edges, edgeLine{ID: e.ID, Source: e.Source, Target: e.Target})
	}

	out, _ := json.MarshalIndent(overview, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) triggerGeneration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Generate(ctx, nodeID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("generation started for node %s; poll generation_status", nodeID)), nil
}

func (s *Server) generationStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	states := s.svc.GenerationStates()
	if len(states) == 0 {
		return mcp.NewToolResultText("no generations have run"), nil
	}
	var lines []string
	for outputType, st := range states {
		line := fmt.Sprintf("%s: %s (%d%%)", outputType, st.Status, st.Progress)
		if st.ArtifactID != "" {
			line += " artifact=" + st.ArtifactID
		}
		if st.Error != "" {
			line += " error=" + st.Error
		}
		lines = append(lines, line)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) cancelGeneration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	outputType, err := req.RequireString("output_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !models.ValidOutputType(models.OutputType(outputType)) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown output type: %s", outputType)), nil
	}
	s.svc.CancelGeneration(models.OutputType(outputType))
	return mcp.NewToolResultText(fmt.Sprintf("cancelled: %s", outputType)), nil
}

func (s *Server) undo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.svc.Undo() {
		return mcp.NewToolResultText("nothing to undo"), nil
	}
	return mcp.NewToolResultText("undone"), nil
}

func (s *Server) redo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.svc.Redo() {
		return mcp.NewToolResultText("nothing to redo"), nil
	}
	return mcp.NewToolResultText("redone"), nil
}

func (s *Server) getPipelineContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PipelineContract), nil
}

func (s *Server) readPipelineContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "waggle://pipeline-contract",
			MIMEType: "text/markdown",
			Text:     PipelineContract,
		},
	}, nil
}
