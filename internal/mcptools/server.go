// Package mcptools exposes one edit workflow as MCP tools over stdio.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fpang/image-edit/internal/gate"
	"github.com/fpang/image-edit/internal/ingest"
	"github.com/fpang/image-edit/internal/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

const serverName = "image-edit"

// Server binds the workflow and download gate to MCP tools.
type Server struct {
	workflow   *workflow.Orchestrator
	gate       *gate.Gate
	httpClient *http.Client
	version    string
}

// New creates a Server. httpClient is used for load_image URLs; nil uses
// the ingest default.
func New(wf *workflow.Orchestrator, g *gate.Gate, httpClient *http.Client, version string) *Server {
	return &Server{workflow: wf, gate: g, httpClient: httpClient, version: version}
}

// MCPServer builds an *mcp.Server with every tool registered.
func (s *Server) MCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: s.version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "load_image",
		Description: "Loads an image from a local path, an http(s) URL or base64 data. Replaces any loaded image and clears the instruction and result.",
	}, s.loadImage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "edit_image",
		Description: "Edits the loaded image with a natural-language instruction and waits for the result. Rejected while another edit is in flight.",
	}, s.editImage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_state",
		Description: "Returns the workflow phase, loaded image, current result summary and prompt history.",
	}, s.getState)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_history",
		Description: "Returns up to five recent instructions, most recent first.",
	}, s.getHistory)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_result",
		Description: "Saves the current edited image through the download gate.",
	}, s.saveResult)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset",
		Description: "Clears the image, instruction, result and history. An in-flight edit is discarded.",
	}, s.reset)

	return server
}

// Run serves the tools on transport until ctx is done or the client leaves.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	log.Info().Str("version", s.version).Msg("Starting MCP server")
	if err := s.MCPServer().Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// LoadImageInput selects exactly one image source.
type LoadImageInput struct {
	Path       string `json:"path,omitempty" jsonschema:"local file path"`
	URL        string `json:"url,omitempty" jsonschema:"http or https URL"`
	DataBase64 string `json:"data_base64,omitempty" jsonschema:"base64 image bytes, optionally a data: URL"`
	Filename   string `json:"filename,omitempty" jsonschema:"name to use with data_base64"`
}

// EditImageInput is an edit request.
type EditImageInput struct {
	Instruction  string `json:"instruction,omitempty" jsonschema:"what to change in the image"`
	HistoryIndex *int   `json:"history_index,omitempty" jsonschema:"reuse a history entry instead of instruction"`
}

// EditImageResult is the outcome of one edit.
type EditImageResult struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status" jsonschema:"succeeded, failed or discarded"`
	Message      string `json:"message,omitempty"`
	Narrative    string `json:"narrative,omitempty"`
	MIMEType     string `json:"mime_type,omitempty"`
	SizeBytes    int    `json:"size_bytes,omitempty"`
}

// HistoryResult lists the prompt history.
type HistoryResult struct {
	Entries  []string `json:"entries"`
	Selected int      `json:"selected" jsonschema:"selected index, -1 when none"`
}

// SaveResultOutput reports a released download.
type SaveResultOutput struct {
	Filename string `json:"filename"`
}

// ResetResult confirms a reset.
type ResetResult struct {
	Phase string `json:"phase"`
}

type emptyInput struct{}

func (s *Server) loadImage(ctx context.Context, _ *mcp.CallToolRequest, in LoadImageInput) (*mcp.CallToolResult, workflow.Snapshot, error) {
	src, err := s.source(in)
	if err != nil {
		return nil, workflow.Snapshot{}, err
	}
	if err := s.workflow.Ingest(ctx, src); err != nil {
		return nil, workflow.Snapshot{}, errors.New(workflow.UserMessage(err) + " (" + err.Error() + ")")
	}
	s.gate.Cancel()
	return nil, s.workflow.Snapshot(), nil
}

func (s *Server) source(in LoadImageInput) (ingest.Source, error) {
	set := 0
	for _, v := range []string{in.Path, in.URL, in.DataBase64} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("provide exactly one of path, url or data_base64")
	}

	switch {
	case in.Path != "":
		return ingest.NewFileSource(in.Path), nil
	case in.URL != "":
		return ingest.NewURLSource(in.URL, s.httpClient), nil
	default:
		return ingest.NewBase64Source(in.Filename, in.DataBase64)
	}
}

func (s *Server) editImage(ctx context.Context, _ *mcp.CallToolRequest, in EditImageInput) (*mcp.CallToolResult, EditImageResult, error) {
	instruction := in.Instruction
	if in.HistoryIndex != nil {
		v, err := s.workflow.SelectHistory(*in.HistoryIndex)
		if err != nil {
			return nil, EditImageResult{}, err
		}
		instruction = v
	}

	sub, err := s.workflow.Submit(ctx, instruction)
	if err != nil {
		return nil, EditImageResult{}, errors.New(workflow.UserMessage(err))
	}
	// Results from an earlier edit can no longer be downloaded.
	s.gate.Cancel()

	outcome, err := sub.Wait(ctx)
	if err != nil {
		return nil, EditImageResult{}, fmt.Errorf("waiting for submission %s: %w", sub.ID(), err)
	}

	out := EditImageResult{
		SubmissionID: sub.ID(),
		Status:       outcome.Status.String(),
		Message:      outcome.Message,
	}
	if outcome.Status != workflow.OutcomeSucceeded {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: nonEmpty(outcome.Message, "The edit was discarded.")}},
		}, out, nil
	}

	ref := outcome.Result.Output
	out.Narrative = outcome.Result.Narrative
	out.MIMEType = ref.MIMEType
	out.SizeBytes = len(ref.Data)

	content := []mcp.Content{&mcp.ImageContent{Data: ref.Data, MIMEType: ref.MIMEType}}
	if out.Narrative != "" {
		content = append(content, &mcp.TextContent{Text: out.Narrative})
	}
	return &mcp.CallToolResult{Content: content}, out, nil
}

func (s *Server) getState(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, workflow.Snapshot, error) {
	return nil, s.workflow.Snapshot(), nil
}

func (s *Server) getHistory(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, HistoryResult, error) {
	out := HistoryResult{Entries: s.workflow.History(), Selected: -1}
	if i, ok := s.workflow.HistorySelection(); ok {
		out.Selected = i
	}
	return nil, out, nil
}

// saveResult is the gate with the acknowledgment step already given: the
// tool call itself is the user's confirmation.
func (s *Server) saveResult(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, SaveResultOutput, error) {
	result, ok := s.workflow.Result()
	if !ok {
		return nil, SaveResultOutput{}, gate.ErrNoResult
	}
	filename, err := s.gate.RequestRelease(result.Output)
	if err != nil {
		return nil, SaveResultOutput{}, err
	}
	if err := s.gate.Acknowledge(ctx); err != nil {
		return nil, SaveResultOutput{}, err
	}
	return nil, SaveResultOutput{Filename: filename}, nil
}

func (s *Server) reset(_ context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, ResetResult, error) {
	s.gate.Cancel()
	s.workflow.Reset()
	return nil, ResetResult{Phase: s.workflow.State().Phase().String()}, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
