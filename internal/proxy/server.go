// Package proxy serves a target web app through a reverse proxy that injects
// the capture script and connects each page to an attribution engine.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/dom"
	"github.com/standardbeagle/errlens/internal/lens"
)

// Reserved route prefix; everything else is proxied.
const routePrefix = "/__errlens"

// ErrNotRunning is returned when stopping a proxy that is not running.
var ErrNotRunning = errors.New("proxy is not running")

// ProxyConfig configures a proxy server.
type ProxyConfig struct {
	ID        string
	TargetURL string
	// ListenHost defaults to 127.0.0.1.
	ListenHost string
	// ListenPort 0 picks a free port.
	ListenPort int
	// CaptureConsole records console.error calls.
	CaptureConsole bool
	// DomainAllowed gates instrumentation by target host. Nil allows all.
	DomainAllowed func(host string) bool
	// MaxBodySize bounds HTML responses rewritten for injection.
	// Default: 16MiB
	MaxBodySize int64
	// Lens configures the engine. Its Sink is replaced by the proxy.
	Lens lens.Config
}

// ProxyStats is a point-in-time view of a proxy.
type ProxyStats struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	ListenAddr string    `json:"listen_addr"`
	Running    bool      `json:"running"`
	Instrument bool      `json:"instrument"`
	StartTime  time.Time `json:"start_time"`
	Requests   int64     `json:"requests"`
	Injected   int64     `json:"injected"`
	Pages      int       `json:"pages"`
	Dropped    int64     `json:"dropped_messages"`
	Records    int       `json:"records"`
}

// ProxyServer is a reverse proxy with an attached attribution engine.
type ProxyServer struct {
	ID         string
	TargetURL  *url.URL
	ListenAddr string

	cfg        ProxyConfig
	engine     *lens.Engine
	hub        *hub
	proxy      *httputil.ReverseProxy
	router     chi.Router
	upgrader   websocket.Upgrader
	instrument bool

	requests    prometheus.Counter
	injected    prometheus.Counter
	requestsN   atomic.Int64
	injectedN   atomic.Int64
	unsubscribe func()

	mu         sync.Mutex
	httpServer *http.Server
	running    atomic.Bool
	startTime  time.Time
	serveDone  chan struct{}
	closeOnce  sync.Once
}

// NewProxyServer creates a proxy server and its engine. The server is not
// listening until Start is called; Handler can be used without it.
func NewProxyServer(config ProxyConfig) (*ProxyServer, error) {
	target, err := url.Parse(config.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid target URL %q: scheme must be http or https", config.TargetURL)
	}
	if config.ListenHost == "" {
		config.ListenHost = "127.0.0.1"
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 16 << 20
	}
	if config.ID == "" {
		config.ID = target.Host
	}

	ps := &ProxyServer{
		ID:         config.ID,
		TargetURL:  target,
		cfg:        config,
		hub:        newHub(),
		instrument: config.DomainAllowed == nil || config.DomainAllowed(target.Host),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // The page is served by this proxy.
			},
		},
	}

	lc := config.Lens
	lc.Sink = ps.hub
	extra := lc.Sourcemap.Allow
	lc.Sourcemap.Allow = func(u *url.URL) bool {
		return ps.fetchAllowed(u) || (extra != nil && extra(u))
	}
	lc.DomainBlocked = !ps.instrument
	ps.engine = lens.New(dom.Empty(target.String()), lc)
	ps.hub.resync = ps.resyncClient
	ps.unsubscribe = ps.engine.Subscribe(func(d lens.Detected) {
		ps.hub.publish(MsgDetected, d)
	})

	ps.requests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "errlens_proxy_requests_total",
		Help: "Requests forwarded to the target.",
	})
	ps.injected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "errlens_proxy_injected_total",
		Help: "HTML responses the capture script was injected into.",
	})
	reg := ps.engine.Metrics().Registry()
	reg.MustRegister(ps.requests, ps.injected)

	ps.proxy = httputil.NewSingleHostReverseProxy(target)
	director := ps.proxy.Director
	ps.proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		// Injection needs an uncompressed body.
		r.Header.Del("Accept-Encoding")
	}
	ps.proxy.ModifyResponse = ps.modifyResponse
	ps.proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		debug.Warn("proxy", "%s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "errlens: target unavailable: "+err.Error(), http.StatusBadGateway)
	}

	ps.router = ps.routes()
	return ps, nil
}

func (ps *ProxyServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Route(routePrefix, func(r chi.Router) {
		r.Get("/ws", ps.handleWebSocket)
		r.Get("/errors", ps.handleErrors)
		r.Delete("/errors", ps.handleClearAll)
		r.Delete("/highlights/{id}", ps.handleClearOne)
		r.Post("/highlights/{id}/flash", ps.handleFlash)
		r.Get("/stats", ps.handleStats)
		r.Method(http.MethodGet, "/metrics", ps.engine.Metrics().Handler())
	})
	r.Handle("/*", http.HandlerFunc(ps.handleProxy))
	return r
}

// Handler returns the proxy's HTTP handler.
func (ps *ProxyServer) Handler() http.Handler {
	return ps.router
}

// Engine returns the attribution engine fed by this proxy's pages.
func (ps *ProxyServer) Engine() *lens.Engine {
	return ps.engine
}

// fetchAllowed reports whether scripts at u may be fetched for source maps:
// the target's origin, or this proxy's own address, which pages load scripts
// through.
func (ps *ProxyServer) fetchAllowed(u *url.URL) bool {
	if strings.EqualFold(u.Host, ps.TargetURL.Host) {
		return true
	}
	ps.mu.Lock()
	listen := ps.ListenAddr
	ps.mu.Unlock()
	if listen == "" {
		return false
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil || u.Port() != port {
		return false
	}
	return strings.EqualFold(u.Hostname(), host) || (isLoopback(u.Hostname()) && isLocal(host))
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isLocal reports whether a listener bound to host accepts loopback traffic.
func isLocal(host string) bool {
	if isLoopback(host) {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

// Start begins listening.
func (ps *ProxyServer) Start(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.running.Load() {
		return nil
	}

	addr := net.JoinHostPort(ps.cfg.ListenHost, strconv.Itoa(ps.cfg.ListenPort))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ps.ListenAddr = ln.Addr().String()
	ps.httpServer = &http.Server{
		Handler:           ps.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ps.startTime = time.Now()
	ps.serveDone = make(chan struct{})
	ps.running.Store(true)

	srv, done := ps.httpServer, ps.serveDone
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.Error("proxy", "%s: serve failed: %v", ps.ID, err)
		}
		ps.running.Store(false)
	}()

	debug.Info("proxy", "%s: proxying %s on http://%s", ps.ID, ps.TargetURL, ps.ListenAddr)
	return nil
}

// Stop shuts the listener down, disconnects pages and closes the engine.
func (ps *ProxyServer) Stop(ctx context.Context) error {
	ps.mu.Lock()
	srv, done := ps.httpServer, ps.serveDone
	ps.httpServer = nil
	ps.mu.Unlock()

	var errs []error
	if srv != nil {
		// Hijacked websocket connections are not tracked by Shutdown.
		ps.hub.closeAll()
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}
	ps.running.Store(false)

	ps.closeOnce.Do(func() {
		ps.unsubscribe()
		ps.hub.closeAll()
		if err := ps.engine.Close(); err != nil && !errors.Is(err, lens.ErrClosed) {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// IsRunning reports whether the server is listening.
func (ps *ProxyServer) IsRunning() bool {
	return ps.running.Load()
}

// Stats returns a snapshot of the proxy's counters.
func (ps *ProxyServer) Stats() ProxyStats {
	ps.mu.Lock()
	start, listen := ps.startTime, ps.ListenAddr
	ps.mu.Unlock()
	return ProxyStats{
		ID:         ps.ID,
		Target:     ps.TargetURL.String(),
		ListenAddr: listen,
		Running:    ps.running.Load(),
		Instrument: ps.instrument,
		StartTime:  start,
		Requests:   ps.requestsN.Load(),
		Injected:   ps.injectedN.Load(),
		Pages:      ps.hub.count(),
		Dropped:    ps.hub.dropped.Load(),
		Records:    ps.engine.Total(),
	}
}

func (ps *ProxyServer) handleProxy(w http.ResponseWriter, r *http.Request) {
	ps.requests.Inc()
	ps.requestsN.Add(1)
	ps.proxy.ServeHTTP(w, r)
}

// modifyResponse injects the capture script into HTML documents.
func (ps *ProxyServer) modifyResponse(resp *http.Response) error {
	if !ps.instrument || !ShouldInject(resp.Header.Get("Content-Type")) {
		return nil
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		debug.Log("proxy", "not injecting into %s response for %s", enc, resp.Request.URL.Path)
		return nil
	}
	if resp.ContentLength > ps.cfg.MaxBodySize {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, ps.cfg.MaxBodySize+1))
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > ps.cfg.MaxBodySize {
		// Too large to rewrite; pass it through untouched.
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return nil
	}

	body = InjectInstrumentation(body, ps.cfg.CaptureConsole)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("Content-Security-Policy")
	resp.Header.Del("Etag")

	ps.injected.Inc()
	ps.injectedN.Add(1)
	return nil
}

func (ps *ProxyServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("proxy", "websocket upgrade failed: %v", err)
		return
	}

	c := ps.hub.add(conn)
	debug.Log("proxy", "page %s connected", c.id)
	defer func() {
		ps.hub.remove(c)
		debug.Log("proxy", "page %s disconnected", c.id)
	}()

	go c.writePump(ps.hub)
	ps.readPump(c)
}

// resyncClient sends one page a clear and the style of every active highlight.
func (ps *ProxyServer) resyncClient(c *client) {
	if err := ps.engine.SyncTo(clientSink{h: ps.hub, c: c}); err != nil && !errors.Is(err, lens.ErrClosed) {
		debug.Warn("proxy", "resync of page %s failed: %v", c.id, err)
	}
}

func (ps *ProxyServer) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Warn("proxy", "page %s read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			debug.Warn("proxy", "page %s sent invalid message: %v", c.id, err)
			continue
		}
		if err := dispatch(ps.engine, msg, time.Now()); err != nil {
			if errors.Is(err, lens.ErrClosed) {
				return
			}
			debug.Log("proxy", "page %s %s: %v", c.id, msg.Type, err)
		}
	}
}

func (ps *ProxyServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ps.engine.Records())
}

func (ps *ProxyServer) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := ps.engine.ClearAll(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ps *ProxyServer) handleClearOne(w http.ResponseWriter, r *http.Request) {
	if err := ps.engine.ClearOne(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ps *ProxyServer) handleFlash(w http.ResponseWriter, r *http.Request) {
	if err := ps.engine.Flash(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ps *ProxyServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ps.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn("proxy", "failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lens.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lens.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
