// Package config provides configuration loading for errlens.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kdl "github.com/sblinch/kdl-go"

	"github.com/standardbeagle/errlens/internal/highlight"
	"github.com/standardbeagle/errlens/internal/lens"
	"github.com/standardbeagle/errlens/internal/sourcemap"
)

// FileName is the name of the errlens configuration file.
const FileName = ".errlens.kdl"

// Environment overrides.
const (
	EnvConfig = "ERRLENS_CONFIG"
	EnvTarget = "ERRLENS_TARGET"
	EnvPort   = "ERRLENS_PORT"
)

// ErrNoTarget is returned when no proxy target is configured.
var ErrNoTarget = errors.New("no proxy target configured")

// Config represents the errlens configuration.
type Config struct {
	Capture   *CaptureConfig   `kdl:"capture"`
	Highlight *HighlightConfig `kdl:"highlight"`
	Sourcemap *SourcemapConfig `kdl:"sourcemap"`
	Domains   *DomainsConfig   `kdl:"domains"`
	Proxy     *ProxyConfig     `kdl:"proxy"`
}

// CaptureConfig controls which errors are recorded.
type CaptureConfig struct {
	Enabled bool `kdl:"enabled"`
	// Ignore holds message patterns to suppress. Each is a regular
	// expression, or a literal substring if it does not compile.
	Ignore []string `kdl:"ignore"`
	// Console captures console.error calls as logged errors.
	Console bool `kdl:"console"`
}

// HighlightConfig controls highlight rendering.
type HighlightConfig struct {
	Color       string `kdl:"color"`
	BorderStyle string `kdl:"border-style"`
	BorderWidth int    `kdl:"border-width"`
	Fill        bool   `kdl:"fill"`
	FillOpacity int    `kdl:"fill-opacity"`
	FlashMS     int    `kdl:"flash-ms"`
	HideDelayMS int    `kdl:"hide-delay-ms"`
}

// SourcemapConfig controls source map fetching.
type SourcemapConfig struct {
	TimeoutMS    int `kdl:"timeout-ms"`
	Retries      int `kdl:"retries"`
	RetryDelayMS int `kdl:"retry-delay-ms"`
	// Origins lists extra hosts scripts may be fetched from, such as a CDN.
	// The proxy target and the proxy itself are always allowed.
	Origins []string `kdl:"origins"`
	// AllowFiles lets stack frames with file:// URLs be read from disk.
	AllowFiles bool `kdl:"allow-files"`
}

// DomainsConfig gates which pages are instrumented.
type DomainsConfig struct {
	// Allow lists hosts to instrument. Empty allows every host.
	Allow []string `kdl:"allow"`
	// Block lists hosts never to instrument. It wins over Allow.
	Block []string `kdl:"block"`
}

// ProxyConfig defines the reverse proxy.
type ProxyConfig struct {
	Target string `kdl:"target"`
	Listen string `kdl:"listen"`
	// Port 0 picks a free port.
	Port int `kdl:"port"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	style := highlight.DefaultStyle()
	hl := highlight.DefaultOptions()
	sm := sourcemap.DefaultConfig()
	return &Config{
		Capture: &CaptureConfig{
			Enabled: true,
			Console: true,
		},
		Highlight: &HighlightConfig{
			Color:       style.Color,
			BorderStyle: style.BorderStyle,
			BorderWidth: style.BorderWidth,
			Fill:        style.Fill,
			FillOpacity: style.FillOpacity,
			FlashMS:     int(hl.FlashDuration / time.Millisecond),
			HideDelayMS: int(hl.HideDelay / time.Millisecond),
		},
		Sourcemap: &SourcemapConfig{
			TimeoutMS:    int(sm.Timeout / time.Millisecond),
			Retries:      sm.Retries,
			RetryDelayMS: int(sm.RetryDelay / time.Millisecond),
		},
		Domains: &DomainsConfig{},
		Proxy: &ProxyConfig{
			Listen: "127.0.0.1",
		},
	}
}

// Load loads .env from dir, then the configuration file named by
// ERRLENS_CONFIG or found from dir, then applies environment overrides.
func Load(dir string) (*Config, error) {
	if err := LoadEnv(dir); err != nil {
		return nil, err
	}

	var (
		cfg *Config
		err error
	)
	if path := os.Getenv(EnvConfig); path != "" {
		cfg, err = LoadConfigFile(path)
	} else {
		cfg, err = LoadConfig(dir)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads dir/.env into the process environment if it exists. Variables
// already set are not overridden.
func LoadEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies ERRLENS_TARGET and ERRLENS_PORT.
func (c *Config) ApplyEnv() error {
	if target := os.Getenv(EnvTarget); target != "" {
		c.Proxy.Target = target
	}
	if port := os.Getenv(EnvPort); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err != nil || p < 0 || p > 65535 {
			return fmt.Errorf("invalid %s %q", EnvPort, port)
		}
		c.Proxy.Port = p
	}
	return nil
}

// LoadConfig loads configuration from the specified directory.
// It looks for .errlens.kdl in the directory and its parents.
func LoadConfig(dir string) (*Config, error) {
	configPath := FindConfigFile(dir)
	if configPath == "" {
		return DefaultConfig(), nil
	}

	return LoadConfigFile(configPath)
}

// FindConfigFile searches for .errlens.kdl starting from dir and walking up.
func FindConfigFile(dir string) string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(absDir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			break
		}
		absDir = parent
	}

	return ""
}

// LoadConfigFile loads configuration from a specific file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(string(data))
}

// ParseConfig parses KDL configuration data.
func ParseConfig(data string) (*Config, error) {
	cfg := DefaultConfig()

	if err := kdl.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fill()

	return cfg, nil
}

// fill restores sections a config file set to empty nodes.
func (c *Config) fill() {
	def := DefaultConfig()
	if c.Capture == nil {
		c.Capture = def.Capture
	}
	if c.Highlight == nil {
		c.Highlight = def.Highlight
	}
	if c.Sourcemap == nil {
		c.Sourcemap = def.Sourcemap
	}
	if c.Domains == nil {
		c.Domains = def.Domains
	}
	if c.Proxy == nil {
		c.Proxy = def.Proxy
	}
}

// TargetURL validates and returns the proxy target.
func (c *Config) TargetURL() (*url.URL, error) {
	if c.Proxy.Target == "" {
		return nil, ErrNoTarget
	}
	u, err := url.Parse(c.Proxy.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", c.Proxy.Target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid target %q: scheme must be http or https", c.Proxy.Target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid target %q: missing host", c.Proxy.Target)
	}
	return u, nil
}

// ListenAddr returns the proxy listen address.
func (c *Config) ListenAddr() string {
	host := c.Proxy.Listen
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, fmt.Sprint(c.Proxy.Port))
}

// DomainAllowed reports whether pages on host should be instrumented. Entries
// match the host exactly, any subdomain of it, or with a leading "*." any
// subdomain only.
func (c *Config) DomainAllowed(host string) bool {
	host = normalizeHost(host)
	for _, b := range c.Domains.Block {
		if matchDomain(host, b) {
			return false
		}
	}
	if len(c.Domains.Allow) == 0 {
		return true
	}
	for _, a := range c.Domains.Allow {
		if matchDomain(host, a) {
			return true
		}
	}
	return false
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.Trim(host, "[]")
}

func matchDomain(host, pattern string) bool {
	pattern = normalizeHost(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// LensConfig converts the configuration for the pipeline.
func (c *Config) LensConfig() lens.Config {
	h := c.Highlight
	s := c.Sourcemap
	return lens.Config{
		Sourcemap: sourcemap.Config{
			Timeout:    time.Duration(s.TimeoutMS) * time.Millisecond,
			Retries:    s.Retries,
			RetryDelay: time.Duration(s.RetryDelayMS) * time.Millisecond,
			Allow:      c.originAllowed,
			AllowFiles: s.AllowFiles,
		},
		Highlight: highlight.Options{
			Style:         c.Style(),
			FlashDuration: time.Duration(h.FlashMS) * time.Millisecond,
			HideDelay:     time.Duration(h.HideDelayMS) * time.Millisecond,
		},
		IgnorePatterns: append([]string(nil), c.Capture.Ignore...),
		Disabled:       !c.Capture.Enabled,
	}
}

// originAllowed reports whether u's host is one of the extra source map
// origins.
func (c *Config) originAllowed(u *url.URL) bool {
	for _, o := range c.Sourcemap.Origins {
		if strings.EqualFold(u.Host, o) || strings.EqualFold(u.Hostname(), o) {
			return true
		}
	}
	return false
}

// Style returns the configured highlight style.
func (c *Config) Style() highlight.Style {
	h := c.Highlight
	return highlight.Style{
		Color:       h.Color,
		BorderStyle: h.BorderStyle,
		BorderWidth: h.BorderWidth,
		Fill:        h.Fill,
		FillOpacity: h.FillOpacity,
	}.Normalize()
}

// WriteDefaultConfig writes a default configuration file with documentation.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(defaultKDL), 0644)
}

const defaultKDL = `// errlens configuration

// Which errors to record
capture {
    enabled true
    console true    // Record console.error calls
    // Messages to ignore: regular expressions, or substrings if invalid
    ignore "ResizeObserver loop" "^Script error\\.?$"
}

// How highlighted elements look
highlight {
    color "#ff3b30"
    border-style "solid"   // solid, dashed, dotted, double, groove, ridge, inset, outset
    border-width 2
    fill true
    fill-opacity 12        // Percent
    flash-ms 1500
    hide-delay-ms 150
}

// Source map fetching
sourcemap {
    timeout-ms 3000
    retries 2
    retry-delay-ms 250
    // origins "cdn.example.com"   // Extra hosts to fetch scripts and maps from
    allow-files false              // Read file:// scripts from disk
}

// Pages to instrument; an empty allow list allows every host
domains {
    // allow "localhost" "127.0.0.1"
    // block "*.internal.example.com"
}

// Reverse proxy
proxy {
    target "http://localhost:3000"
    listen "127.0.0.1"
    port 0                 // 0 picks a free port
}
`
