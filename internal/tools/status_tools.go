package tools

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/errlens/internal/proxy"
)

// StatusInput defines input for the status tool.
type StatusInput struct{}

// StatusOutput reports the running proxies.
type StatusOutput struct {
	Proxies      []ProxyStatus `json:"proxies"`
	Active       int64         `json:"active"`
	TotalStarted int64         `json:"total_started"`
}

// ProxyStatus describes one proxy and its page session.
type ProxyStatus struct {
	ID         string `json:"id"`
	Target     string `json:"target"`
	URL        string `json:"url"`
	Running    bool   `json:"running"`
	Instrument bool   `json:"instrument"`
	Uptime     string `json:"uptime,omitempty"`
	Requests   int64  `json:"requests"`
	Injected   int64  `json:"injected"`
	Pages      int    `json:"pages"`
	Records    int    `json:"records"`

	MapsCached      int   `json:"maps_cached"`
	MapsUnavailable int   `json:"maps_unavailable"`
	MapFetches      int64 `json:"map_fetches"`
	MapFailures     int64 `json:"map_failures"`
}

// RegisterStatusTool adds the status tool to the server.
func RegisterStatusTool(server *mcp.Server, pm *proxy.ProxyManager) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "status",
		Description: `Show the errlens proxies: the URL to open in a browser, the target they
forward to, connected pages, captured errors and source map cache counters.

Example: status {}`,
	}, makeStatusHandler(pm))
}

func makeStatusHandler(pm *proxy.ProxyManager) func(context.Context, *mcp.CallToolRequest, StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
		out := StatusOutput{
			Proxies:      []ProxyStatus{},
			Active:       pm.ActiveCount(),
			TotalStarted: pm.TotalStarted(),
		}
		for _, p := range pm.List() {
			out.Proxies = append(out.Proxies, proxyStatus(p))
		}
		return nil, out, nil
	}
}

func proxyStatus(p *proxy.ProxyServer) ProxyStatus {
	stats := p.Stats()
	rs := p.Engine().ResolverStats()
	ps := ProxyStatus{
		ID:              stats.ID,
		Target:          stats.Target,
		Running:         stats.Running,
		Instrument:      stats.Instrument,
		Requests:        stats.Requests,
		Injected:        stats.Injected,
		Pages:           stats.Pages,
		Records:         stats.Records,
		MapsCached:      rs.Cached,
		MapsUnavailable: rs.Unavailable,
		MapFetches:      rs.Fetches,
		MapFailures:     rs.Failures,
	}
	if stats.ListenAddr != "" {
		ps.URL = "http://" + stats.ListenAddr + "/"
	}
	if stats.Running && !stats.StartTime.IsZero() {
		ps.Uptime = time.Since(stats.StartTime).Round(time.Second).String()
	}
	return ps
}
