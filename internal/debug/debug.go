// Package debug provides component-tagged logging for errlens.
//
// Lines have the form "[LEVEL] [component] message". Info, warnings and
// errors are always written. Debug and trace lines are written only for
// enabled components: ERRLENS_DEBUG=1 (or all, *) enables every component,
// ERRLENS_DEBUG=sourcemap,proxy only those two.
package debug

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EnvVar selects the components debug logging is enabled for.
const EnvVar = "ERRLENS_DEBUG"

// gate is the set of components debug output is enabled for. A nil set with
// all unset means disabled.
type gate struct {
	all        bool
	components map[string]bool
}

var (
	current atomic.Pointer[gate]

	mu       sync.Mutex
	file     *os.File
	filePath string
	out      io.Writer = os.Stderr

	logger = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	current.Store(&gate{})
	if v := os.Getenv(EnvVar); v != "" {
		Enable(ParseComponents(v)...)
	}
}

// ParseComponents splits an ERRLENS_DEBUG value. Values that mean "all"
// yield an empty list.
func ParseComponents(v string) []string {
	var names []string
	for _, f := range strings.Split(v, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case "":
		case "1", "true", "all", "*":
			return nil
		default:
			names = append(names, f)
		}
	}
	return names
}

// Enable turns on debug output for the named components, or for all of
// them when none are named.
func Enable(components ...string) {
	g := &gate{all: len(components) == 0}
	if !g.all {
		g.components = make(map[string]bool, len(components))
		for _, c := range components {
			g.components[strings.ToLower(c)] = true
		}
	}
	current.Store(g)
}

// Disable turns off debug output.
func Disable() {
	current.Store(&gate{})
}

// IsEnabled reports whether debug output is on for any component.
func IsEnabled() bool {
	g := current.Load()
	return g.all || len(g.components) > 0
}

// Enabled reports whether debug output is on for component.
func Enabled(component string) bool {
	g := current.Load()
	return g.all || g.components[strings.ToLower(component)]
}

// SetOutput redirects log output. Passing nil restores stderr. An open log
// file keeps receiving a copy.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
	rewire()
}

// SetLogFile copies log output into name under LogDir. An empty name closes
// the file.
func SetLogFile(name string) error {
	mu.Lock()
	defer mu.Unlock()

	closeFile()
	if name == "" {
		rewire()
		return nil
	}

	dir := LogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	file, filePath = f, path
	rewire()
	return nil
}

// rewire points the logger at out and the log file. The caller holds mu.
func rewire() {
	if file != nil {
		logger.SetOutput(io.MultiWriter(out, file))
		return
	}
	logger.SetOutput(out)
}

// closeFile closes the log file. The caller holds mu.
func closeFile() {
	if file != nil {
		file.Close()
	}
	file, filePath = nil, ""
}

// LogDir returns the directory log files are written to.
func LogDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "errlens", "logs")
}

// GetLogFilePath returns the open log file's path, or "".
func GetLogFilePath() string {
	mu.Lock()
	defer mu.Unlock()
	return filePath
}

// Close closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFile()
	rewire()
}

func write(level, component, format string, args []interface{}) {
	logger.Printf("[%s] [%s] %s", level, component, fmt.Sprintf(format, args...))
}

// Log writes a debug line when component is enabled.
func Log(component, format string, args ...interface{}) {
	if Enabled(component) {
		write("DEBUG", component, format, args)
	}
}

// Trace is Log with a microsecond timestamp, for per-node detail.
func Trace(component, format string, args ...interface{}) {
	if Enabled(component) {
		ts := time.Now().Format("15:04:05.000000")
		write("TRACE", component, "["+ts+"] "+format, args)
	}
}

func Error(component, format string, args ...interface{}) {
	write("ERROR", component, format, args)
}

func Warn(component, format string, args ...interface{}) {
	write("WARN", component, format, args)
}

func Info(component, format string, args ...interface{}) {
	write("INFO", component, format, args)
}
