package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Capture.Enabled || !cfg.Capture.Console {
		t.Error("capture should be enabled by default")
	}
	if cfg.Highlight.Color != "#ff3b30" || cfg.Highlight.BorderWidth != 2 {
		t.Errorf("highlight = %+v", cfg.Highlight)
	}
	if cfg.Sourcemap.TimeoutMS != 3000 || cfg.Sourcemap.Retries != 2 {
		t.Errorf("sourcemap = %+v", cfg.Sourcemap)
	}
	if cfg.ListenAddr() != "127.0.0.1:0" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
capture {
    enabled false
    ignore "ResizeObserver" "^Error: \\d+$"
}
highlight {
    color "rebeccapurple"
    border-style "dashed"
    border-width 3
    fill false
}
sourcemap {
    timeout-ms 500
    retries 0
    origins "cdn.example.com"
}
domains {
    allow "localhost" "example.com"
    block "admin.example.com"
}
proxy {
    target "http://localhost:5173"
    port 8088
}
`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Capture.Enabled {
		t.Error("capture.enabled should be false")
	}
	if len(cfg.Capture.Ignore) != 2 || cfg.Capture.Ignore[1] != `^Error: \d+$` {
		t.Errorf("ignore = %q", cfg.Capture.Ignore)
	}
	// Unset values keep their defaults.
	if !cfg.Capture.Console || cfg.Highlight.FillOpacity != 12 || cfg.Sourcemap.RetryDelayMS != 250 {
		t.Errorf("defaults lost: %+v %+v %+v", cfg.Capture, cfg.Highlight, cfg.Sourcemap)
	}

	lc := cfg.LensConfig()
	if !lc.Disabled {
		t.Error("LensConfig().Disabled = false")
	}
	if lc.Sourcemap.Timeout != 500*time.Millisecond || lc.Sourcemap.Retries != 0 || lc.Sourcemap.AllowFiles {
		t.Errorf("sourcemap config = %+v", lc.Sourcemap)
	}
	for raw, want := range map[string]bool{
		"https://cdn.example.com/app.js":     true,
		"https://CDN.example.com:443/app.js": true,
		"https://evil.example.com/app.js":    false,
		"http://169.254.169.254/latest/meta": false,
	} {
		u, _ := url.Parse(raw)
		if got := lc.Sourcemap.Allow(u); got != want {
			t.Errorf("Allow(%s) = %v, want %v", raw, got, want)
		}
	}
	s := lc.Highlight.Style
	if s.Color != "rebeccapurple" || s.BorderStyle != "dashed" || s.BorderWidth != 3 || s.Fill {
		t.Errorf("style = %+v", s)
	}
	if lc.Highlight.FlashDuration != 1500*time.Millisecond {
		t.Errorf("flash = %v", lc.Highlight.FlashDuration)
	}

	u, err := cfg.TargetURL()
	if err != nil || u.Host != "localhost:5173" {
		t.Errorf("TargetURL() = %v, %v", u, err)
	}
	if cfg.ListenAddr() != "127.0.0.1:8088" {
		t.Errorf("ListenAddr() = %q", cfg.ListenAddr())
	}
}

func TestParseConfigInvalid(t *testing.T) {
	if _, err := ParseConfig(`capture {`); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultFileParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	if err := WriteDefaultConfig(path); err == nil {
		t.Error("second write should refuse to overwrite")
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Proxy.Target != "http://localhost:3000" {
		t.Errorf("target = %q", cfg.Proxy.Target)
	}
	if len(cfg.Capture.Ignore) != 2 || cfg.Capture.Ignore[1] != `^Script error\.?$` {
		t.Errorf("ignore = %q", cfg.Capture.Ignore)
	}
	if cfg.Highlight.Color != DefaultConfig().Highlight.Color {
		t.Errorf("color = %q", cfg.Highlight.Color)
	}
}

func TestFindConfigFileWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, FileName)
	if err := os.WriteFile(want, []byte(`proxy { target "http://localhost:4000"; }`), 0644); err != nil {
		t.Fatal(err)
	}

	if got := FindConfigFile(nested); got != want {
		t.Errorf("FindConfigFile() = %q, want %q", got, want)
	}

	cfg, err := LoadConfig(nested)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Proxy.Target != "http://localhost:4000" {
		t.Errorf("target = %q", cfg.Proxy.Target)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ERRLENS_TARGET=http://localhost:9000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvTarget, "")
	t.Setenv(EnvPort, "7070")
	t.Setenv(EnvConfig, "")
	os.Unsetenv(EnvTarget)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.Target != "http://localhost:9000" {
		t.Errorf("target = %q, want value from .env", cfg.Proxy.Target)
	}
	if cfg.Proxy.Port != 7070 {
		t.Errorf("port = %d", cfg.Proxy.Port)
	}

	t.Setenv(EnvPort, "nope")
	if _, err := Load(dir); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestLoadExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.kdl")
	if err := os.WriteFile(path, []byte(`highlight { color "teal"; }`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvTarget, "")
	t.Setenv(EnvPort, "")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Highlight.Color != "teal" {
		t.Errorf("color = %q", cfg.Highlight.Color)
	}
}

func TestTargetURL(t *testing.T) {
	tests := []struct {
		target string
		ok     bool
	}{
		{"http://localhost:3000", true},
		{"https://app.test", true},
		{"", false},
		{"ftp://host", false},
		{"http://", false},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Proxy.Target = tt.target
		_, err := cfg.TargetURL()
		if (err == nil) != tt.ok {
			t.Errorf("TargetURL(%q) err = %v", tt.target, err)
		}
	}
}

func TestDomainAllowed(t *testing.T) {
	tests := []struct {
		name  string
		allow []string
		block []string
		host  string
		want  bool
	}{
		{"empty allows all", nil, nil, "anything.test", true},
		{"exact", []string{"localhost"}, nil, "localhost:3000", true},
		{"subdomain", []string{"example.com"}, nil, "app.example.com", true},
		{"not listed", []string{"example.com"}, nil, "example.org", false},
		{"suffix is not a subdomain", []string{"example.com"}, nil, "badexample.com", false},
		{"wildcard skips apex", []string{"*.example.com"}, nil, "example.com", false},
		{"wildcard subdomain", []string{"*.example.com"}, nil, "a.example.com", true},
		{"block wins", []string{"example.com"}, []string{"admin.example.com"}, "admin.example.com", false},
		{"block only", nil, []string{"tracker.test"}, "tracker.test", false},
		{"case insensitive", []string{"LocalHost"}, nil, "LOCALHOST", true},
		{"ipv6", []string{"::1"}, nil, "[::1]:8080", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Domains.Allow = tt.allow
			cfg.Domains.Block = tt.block
			if got := cfg.DomainAllowed(tt.host); got != tt.want {
				t.Errorf("DomainAllowed(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
