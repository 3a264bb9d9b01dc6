package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/proxy"
	"github.com/standardbeagle/errlens/internal/tools"
)

const mcpInstructions = `errlens proxies a web app and attributes browser errors to the page elements
that caused them. Ask the user to open the URL reported by the status tool.

Use errors {action: "list"} to see captured errors with source-mapped locations,
errors {action: "flash", highlight_id: ...} to point at an element, and
filters or highlight_style to tune what is captured and how it is shown.`

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the proxy with an MCP tool server on stdio",
	Long: `Run the instrumenting proxy and serve MCP tools over stdin/stdout, so an
agent can list captured errors, flash the elements involved and resolve
source locations.

Tools: errors, highlight_style, filters, resolve, status`,
	RunE: runMCP,
}

func init() {
	addProxyFlags(mcpCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := proxy.NewProxyManager()
	ps, err := startProxy(ctx, cmd, pm)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pm.Shutdown(shutdownCtx); err != nil {
			debug.Warn("mcp", "shutdown: %v", err)
		}
	}()

	stats := ps.Stats()
	debug.Info("mcp", "proxying %s at http://%s/", stats.Target, stats.ListenAddr)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    appName,
		Version: Version,
	}, &mcp.ServerOptions{
		Instructions: mcpInstructions,
	})
	tools.NewEngineTools(ps.Engine()).Register(server)
	tools.RegisterStatusTool(server, pm)

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
