package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/errlens/internal/config"
	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/lens"
	"github.com/standardbeagle/errlens/internal/proxy"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the instrumenting proxy",
	Long: `Run the instrumenting proxy in the foreground. Open the printed URL in a
browser instead of the app's own address. Captured errors are logged as they
arrive and can be listed with 'errlens errors'.

The target and port come from .errlens.kdl, ERRLENS_TARGET and ERRLENS_PORT,
or the flags below.`,
	RunE: runServe,
}

func init() {
	addProxyFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addProxyFlags(cmd *cobra.Command) {
	cmd.Flags().String("target", "", "URL of the app to proxy")
	cmd.Flags().Int("port", -1, "Port to listen on (0 picks a free port)")
	cmd.Flags().String("dir", "", "Directory to search for "+config.FileName+" (default: working directory)")
}

// loadConfig loads configuration and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if target, _ := cmd.Flags().GetString("target"); target != "" {
		cfg.Proxy.Target = target
	}
	if port, _ := cmd.Flags().GetInt("port"); port >= 0 {
		cfg.Proxy.Port = port
	}
	return cfg, nil
}

// proxyConfig builds the proxy configuration for cfg.
func proxyConfig(cfg *config.Config) (proxy.ProxyConfig, error) {
	target, err := cfg.TargetURL()
	if err != nil {
		return proxy.ProxyConfig{}, err
	}
	return proxy.ProxyConfig{
		ID:             target.Host,
		TargetURL:      target.String(),
		ListenHost:     cfg.Proxy.Listen,
		ListenPort:     cfg.Proxy.Port,
		CaptureConsole: cfg.Capture.Console,
		DomainAllowed:  cfg.DomainAllowed,
		Lens:           cfg.LensConfig(),
	}, nil
}

// startProxy loads configuration and starts a proxy under pm.
func startProxy(ctx context.Context, cmd *cobra.Command, pm *proxy.ProxyManager) (*proxy.ProxyServer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	pc, err := proxyConfig(cfg)
	if err != nil {
		return nil, err
	}
	return pm.Create(ctx, pc)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm := proxy.NewProxyManager()
	ps, err := startProxy(ctx, cmd, pm)
	if err != nil {
		return err
	}

	unsubscribe := ps.Engine().Subscribe(func(d lens.Detected) {
		v := d.Record
		loc := v.Location.String()
		if v.Location.IsZero() {
			loc = "unknown location"
		}
		if v.Count > 1 {
			debug.Info("errlens", "%s (x%d) at %s", v.Message, v.Count, loc)
		} else {
			debug.Info("errlens", "%s at %s", v.Message, loc)
		}
	})
	defer unsubscribe()

	stats := ps.Stats()
	fmt.Printf("Proxying %s\n", stats.Target)
	fmt.Printf("Open http://%s/ in your browser\n", stats.ListenAddr)
	if !stats.Instrument {
		fmt.Println("Note: the target's domain is not in the allow list, pages will not be instrumented")
	}

	<-ctx.Done()
	fmt.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return pm.Shutdown(shutdownCtx)
}
