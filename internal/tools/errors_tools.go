// Package tools exposes the error panel as MCP tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/lens"
)

// EngineTools serves tools backed by one attribution engine.
type EngineTools struct {
	engine *lens.Engine
}

// NewEngineTools creates tools for e.
func NewEngineTools(e *lens.Engine) *EngineTools {
	return &EngineTools{engine: e}
}

// Register adds every engine tool to the server.
func (et *EngineTools) Register(server *mcp.Server) {
	RegisterErrorsTool(server, et)
	RegisterHighlightStyleTool(server, et)
	RegisterFiltersTool(server, et)
	RegisterResolveTool(server, et)
}

// ErrorsInput represents input for the errors tool.
type ErrorsInput struct {
	Action      string `json:"action" jsonschema:"Action: list, get, clear, clear_one, flash"`
	HighlightID string `json:"highlight_id,omitempty" jsonschema:"Highlight ID (clear_one, flash)"`
	RecordID    string `json:"record_id,omitempty" jsonschema:"Record ID (get, clear_one, flash)"`
}

// ErrorsOutput represents output from the errors tool.
type ErrorsOutput struct {
	Success bool           `json:"success"`
	Records []RecordOutput `json:"records,omitempty"`
	Record  *RecordOutput  `json:"record,omitempty"`
	Count   int            `json:"count"`
	Total   int            `json:"total"`
	Message string         `json:"message,omitempty"`
}

// RecordOutput is one listed error.
type RecordOutput struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Message      string   `json:"message"`
	Location     string   `json:"location,omitempty"`
	Raw          string   `json:"raw,omitempty"`
	Resolved     bool     `json:"resolved"`
	Count        int      `json:"count"`
	FirstSeen    string   `json:"first_seen"`
	LastSeen     string   `json:"last_seen"`
	HighlightIDs []string `json:"highlight_ids,omitempty"`
	Stack        string   `json:"stack,omitempty"`
}

func recordOutput(v capture.View) RecordOutput {
	out := RecordOutput{
		ID:           v.ID,
		Kind:         string(v.Kind),
		Message:      v.Message,
		Resolved:     v.Resolved != nil,
		Count:        v.Count,
		FirstSeen:    v.FirstSeen.Format(time.RFC3339Nano),
		LastSeen:     v.LastSeen.Format(time.RFC3339Nano),
		HighlightIDs: v.HighlightIDs,
		Stack:        v.Stack,
	}
	if !v.Location.IsZero() {
		out.Location = v.Location.String()
	}
	if !v.Raw.IsZero() {
		out.Raw = v.Raw.String()
	}
	return out
}

// RegisterErrorsTool registers the errors MCP tool with the server.
func RegisterErrorsTool(server *mcp.Server, et *EngineTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "errors",
		Description: `List and manage errors captured from the proxied page.

Actions:
  list: All distinct errors in arrival order, with repeat counts
  get: One error by record_id, including its stack
  clear: Remove every error and its highlights
  clear_one: Remove the error owning highlight_id (or record_id)
  flash: Scroll to and pulse the element carrying highlight_id (or the first element of record_id)

Locations are shown through source maps when one is available, otherwise as
reported by the page.

Examples:
  errors {action: "list"}
  errors {action: "flash", highlight_id: "3f2c..."}
  errors {action: "clear_one", record_id: "9a1b..."}`,
	}, et.makeErrorsHandler())
}

func (et *EngineTools) makeErrorsHandler() func(context.Context, *mcp.CallToolRequest, ErrorsInput) (*mcp.CallToolResult, ErrorsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ErrorsInput) (*mcp.CallToolResult, ErrorsOutput, error) {
		emptyOutput := ErrorsOutput{}

		switch input.Action {
		case "list", "":
			views := et.engine.Records()
			records := make([]RecordOutput, 0, len(views))
			for _, v := range views {
				records = append(records, recordOutput(v))
			}
			return nil, ErrorsOutput{
				Success: true,
				Records: records,
				Count:   len(records),
				Total:   et.engine.Total(),
			}, nil

		case "get":
			if input.RecordID == "" {
				return errorResult("record_id required"), emptyOutput, nil
			}
			v, ok := et.engine.Record(input.RecordID)
			if !ok {
				return errorResult(fmt.Sprintf("record %s not found", input.RecordID)), emptyOutput, nil
			}
			rec := recordOutput(v)
			return nil, ErrorsOutput{Success: true, Record: &rec, Count: 1, Total: et.engine.Total()}, nil

		case "clear":
			n := len(et.engine.Records())
			if err := et.engine.ClearAll(); err != nil {
				return engineError(err, "clear"), emptyOutput, nil
			}
			return nil, ErrorsOutput{Success: true, Message: fmt.Sprintf("cleared %d error(s)", n)}, nil

		case "clear_one":
			var err error
			switch {
			case input.HighlightID != "":
				err = et.engine.ClearOne(input.HighlightID)
			case input.RecordID != "":
				err = et.engine.RemoveRecord(input.RecordID)
			default:
				return errorResult("highlight_id or record_id required"), emptyOutput, nil
			}
			if err != nil {
				return engineError(err, "clear_one"), emptyOutput, nil
			}
			return nil, ErrorsOutput{Success: true, Message: "error cleared", Total: et.engine.Total()}, nil

		case "flash":
			var err error
			switch {
			case input.HighlightID != "":
				err = et.engine.Flash(input.HighlightID)
			case input.RecordID != "":
				err = et.engine.FlashRecord(input.RecordID)
			default:
				return errorResult("highlight_id or record_id required"), emptyOutput, nil
			}
			if err != nil {
				return engineError(err, "flash"), emptyOutput, nil
			}
			return nil, ErrorsOutput{Success: true, Message: "element flashed"}, nil

		default:
			return errorResult(fmt.Sprintf("unknown action: %s (use: list, get, clear, clear_one, flash)", input.Action)), emptyOutput, nil
		}
	}
}

// errorResult creates an error result for tool responses.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

// engineError formats an engine error for the caller.
func engineError(err error, operation string) *mcp.CallToolResult {
	switch {
	case errors.Is(err, lens.ErrNotFound):
		return errorResult(fmt.Sprintf("%s: %v", operation, err))
	case errors.Is(err, lens.ErrClosed):
		return errorResult(fmt.Sprintf("%s: the page session has ended", operation))
	default:
		return errorResult(fmt.Sprintf("%s failed: %v", operation, err))
	}
}
