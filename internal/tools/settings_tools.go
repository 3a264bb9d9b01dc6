package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/errlens/internal/highlight"
)

// HighlightStyleInput sets highlight appearance. Omitted fields keep their
// current value.
type HighlightStyleInput struct {
	Color       string `json:"color,omitempty" jsonschema:"CSS color, e.g. #ff3b30 or rebeccapurple"`
	BorderStyle string `json:"border_style,omitempty" jsonschema:"solid, dashed, dotted, double, groove, ridge, inset, outset"`
	BorderWidth int    `json:"border_width,omitempty" jsonschema:"Border width in pixels (1-10)"`
	Fill        *bool  `json:"fill,omitempty" jsonschema:"Tint the element background"`
	FillOpacity *int   `json:"fill_opacity,omitempty" jsonschema:"Background tint opacity in percent (0-100)"`
}

// HighlightStyleOutput is the style in effect after the change.
type HighlightStyleOutput struct {
	Success     bool   `json:"success"`
	Color       string `json:"color"`
	BorderStyle string `json:"border_style"`
	BorderWidth int    `json:"border_width"`
	Fill        bool   `json:"fill"`
	FillOpacity int    `json:"fill_opacity"`
}

// RegisterHighlightStyleTool registers the highlight_style MCP tool.
func RegisterHighlightStyleTool(server *mcp.Server, et *EngineTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "highlight_style",
		Description: `Change how highlighted elements look. Active highlights are re-rendered
immediately. Omitted fields keep their current value; call with no fields to
read the current style.

Example: highlight_style {color: "#0a84ff", border_style: "dashed", border_width: 3}`,
	}, et.makeHighlightStyleHandler())
}

func (et *EngineTools) makeHighlightStyleHandler() func(context.Context, *mcp.CallToolRequest, HighlightStyleInput) (*mcp.CallToolResult, HighlightStyleOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input HighlightStyleInput) (*mcp.CallToolResult, HighlightStyleOutput, error) {
		s := et.engine.Style()
		if input.Color != "" {
			s.Color = input.Color
		}
		if input.BorderStyle != "" {
			s.BorderStyle = input.BorderStyle
		}
		if input.BorderWidth != 0 {
			s.BorderWidth = input.BorderWidth
		}
		if input.Fill != nil {
			s.Fill = *input.Fill
		}
		if input.FillOpacity != nil {
			s.FillOpacity = *input.FillOpacity
		}

		applied, err := et.engine.ApplyStyle(s)
		if err != nil {
			return engineError(err, "highlight_style"), HighlightStyleOutput{}, nil
		}
		return nil, styleOutput(applied), nil
	}
}

func styleOutput(s highlight.Style) HighlightStyleOutput {
	return HighlightStyleOutput{
		Success:     true,
		Color:       s.Color,
		BorderStyle: s.BorderStyle,
		BorderWidth: s.BorderWidth,
		Fill:        s.Fill,
		FillOpacity: s.FillOpacity,
	}
}

// FiltersInput sets capture filters. Omitted fields keep their current value.
type FiltersInput struct {
	Patterns []string `json:"patterns,omitempty" jsonschema:"Messages to ignore: regular expressions, or substrings if not valid"`
	Clear    bool     `json:"clear,omitempty" jsonschema:"Remove all ignore patterns"`
	Enabled  *bool    `json:"enabled,omitempty" jsonschema:"Turn capture on or off. Turning it off removes all highlights."`
}

// FiltersOutput is the filter state after the change. Capturing is false
// when capture is enabled but the page's domain is not instrumented.
type FiltersOutput struct {
	Success   bool     `json:"success"`
	Patterns  []string `json:"patterns"`
	Enabled   bool     `json:"enabled"`
	Capturing bool     `json:"capturing"`
}

// RegisterFiltersTool registers the filters MCP tool.
func RegisterFiltersTool(server *mcp.Server, et *EngineTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "filters",
		Description: `Configure which errors are captured.

patterns replaces the ignore list; clear empties it. Each pattern is a regular
expression, or a plain substring if it does not compile. Errors already listed
are not affected. enabled turns capture on or off.

Examples:
  filters {patterns: ["ResizeObserver loop", "^Error: \\d+$"]}
  filters {enabled: false}
  filters {}   (read current settings)`,
	}, et.makeFiltersHandler())
}

func (et *EngineTools) makeFiltersHandler() func(context.Context, *mcp.CallToolRequest, FiltersInput) (*mcp.CallToolResult, FiltersOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input FiltersInput) (*mcp.CallToolResult, FiltersOutput, error) {
		patterns, enabled := et.engine.Filters()
		switch {
		case input.Clear:
			patterns = nil
		case input.Patterns != nil:
			patterns = input.Patterns
		}
		if input.Enabled != nil {
			enabled = *input.Enabled
		}

		if err := et.engine.ApplyFilters(patterns, enabled); err != nil {
			return engineError(err, "filters"), FiltersOutput{}, nil
		}
		patterns, enabled = et.engine.Filters()
		if patterns == nil {
			patterns = []string{}
		}
		return nil, FiltersOutput{Success: true, Patterns: patterns, Enabled: enabled, Capturing: et.engine.Capturing()}, nil
	}
}

// ResolveInput names a generated code position.
type ResolveInput struct {
	File   string `json:"file" jsonschema:"Script URL as reported in a stack trace"`
	Line   int    `json:"line" jsonschema:"1-based line"`
	Column int    `json:"column,omitempty" jsonschema:"1-based column"`
}

// ResolveOutput is the original position, if a source map covers it.
type ResolveOutput struct {
	Resolved bool   `json:"resolved"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Location string `json:"location"`
}

// RegisterResolveTool registers the resolve MCP tool.
func RegisterResolveTool(server *mcp.Server, et *EngineTools) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "resolve",
		Description: `Map a generated script position to its original source through the
script's source map. Unresolvable positions are returned unchanged with
resolved: false.

Example: resolve {file: "http://localhost:3000/static/app.js", line: 10, column: 3}`,
	}, et.makeResolveHandler())
}

func (et *EngineTools) makeResolveHandler() func(context.Context, *mcp.CallToolRequest, ResolveInput) (*mcp.CallToolResult, ResolveOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, ResolveOutput, error) {
		if input.File == "" {
			return errorResult("file required"), ResolveOutput{}, nil
		}
		if input.Line < 1 {
			return errorResult("line must be 1 or greater"), ResolveOutput{}, nil
		}

		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		out := ResolveOutput{File: input.File, Line: input.Line, Column: input.Column}
		if loc := et.engine.ResolveLocation(ctx, input.File, input.Line, input.Column); loc != nil {
			out = ResolveOutput{Resolved: true, File: loc.File, Line: loc.Line, Column: loc.Column}
		}
		out.Location = fmt.Sprintf("%s:%d:%d", out.File, out.Line, out.Column)
		return nil, out, nil
	}
}
