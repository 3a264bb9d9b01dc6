package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/errlens/internal/config"
)

func newProxyCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addProxyFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestLoadConfigFlags(t *testing.T) {
	dir := t.TempDir()
	data := `proxy {
    target "http://localhost:3000"
    port 8900
}
domains {
    allow "localhost"
}
`
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvTarget, "")
	t.Setenv(config.EnvPort, "")
	t.Setenv(config.EnvConfig, "")

	cfg, err := loadConfig(newProxyCmd(t, "--dir", dir))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.Target != "http://localhost:3000" || cfg.Proxy.Port != 8900 {
		t.Errorf("from file: %+v", cfg.Proxy)
	}

	cfg, err = loadConfig(newProxyCmd(t, "--dir", dir, "--target", "http://example.com:8080", "--port", "0"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.Target != "http://example.com:8080" || cfg.Proxy.Port != 0 {
		t.Errorf("flags not applied: %+v", cfg.Proxy)
	}

	pc, err := proxyConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if pc.ID != "example.com:8080" || pc.TargetURL != "http://example.com:8080" {
		t.Errorf("proxy config = %+v", pc)
	}
	if pc.DomainAllowed("example.com") {
		t.Error("example.com is not in the allow list")
	}
	if !pc.CaptureConsole {
		t.Error("console capture should default on")
	}
}

func TestProxyConfigNoTarget(t *testing.T) {
	if _, err := proxyConfig(config.DefaultConfig()); err != config.ErrNoTarget {
		t.Errorf("err = %v, want ErrNoTarget", err)
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadConfigFile(filepath.Join(dir, config.FileName)); err != nil {
		t.Errorf("written config does not load: %v", err)
	}
	if err := runInit(initCmd, []string{dir}); err == nil {
		t.Error("second init should refuse to overwrite")
	}
}
