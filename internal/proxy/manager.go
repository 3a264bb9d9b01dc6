package proxy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrProxyExists is returned when trying to create a proxy with an existing ID.
	ErrProxyExists = errors.New("proxy already exists")
	// ErrProxyNotFound is returned when a proxy ID is not found.
	ErrProxyNotFound = errors.New("proxy not found")
	// ErrShuttingDown is returned by Create after Shutdown.
	ErrShuttingDown = errors.New("proxy manager is shutting down")
)

// ProxyManager manages multiple proxy servers with lock-free access.
type ProxyManager struct {
	proxies      sync.Map // map[string]*ProxyServer
	activeCount  atomic.Int64
	totalStarted atomic.Int64

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
}

// NewProxyManager creates a new proxy manager.
func NewProxyManager() *ProxyManager {
	return &ProxyManager{}
}

// Create creates and starts a new proxy server.
func (pm *ProxyManager) Create(ctx context.Context, config ProxyConfig) (*ProxyServer, error) {
	if pm.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	proxy, err := NewProxyServer(config)
	if err != nil {
		return nil, err
	}

	// Reserve the ID before starting so concurrent creates cannot both win.
	if _, loaded := pm.proxies.LoadOrStore(proxy.ID, proxy); loaded {
		proxy.Stop(ctx)
		return nil, ErrProxyExists
	}

	if err := proxy.Start(ctx); err != nil {
		pm.proxies.Delete(proxy.ID)
		proxy.Stop(ctx)
		return nil, err
	}

	pm.activeCount.Add(1)
	pm.totalStarted.Add(1)
	return proxy, nil
}

// Get retrieves a proxy by ID.
func (pm *ProxyManager) Get(id string) (*ProxyServer, error) {
	if val, ok := pm.proxies.Load(id); ok {
		return val.(*ProxyServer), nil
	}
	return nil, ErrProxyNotFound
}

// Stop stops a proxy server and removes it from the registry.
func (pm *ProxyManager) Stop(ctx context.Context, id string) error {
	val, ok := pm.proxies.LoadAndDelete(id)
	if !ok {
		return ErrProxyNotFound
	}
	pm.activeCount.Add(-1)
	return val.(*ProxyServer).Stop(ctx)
}

// List returns all managed proxy servers ordered by ID.
func (pm *ProxyManager) List() []*ProxyServer {
	var result []*ProxyServer
	pm.proxies.Range(func(key, value any) bool {
		result = append(result, value.(*ProxyServer))
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ActiveCount returns the number of running proxies.
func (pm *ProxyManager) ActiveCount() int64 {
	return pm.activeCount.Load()
}

// TotalStarted returns the total number of proxies ever started.
func (pm *ProxyManager) TotalStarted() int64 {
	return pm.totalStarted.Load()
}

// StopAll stops all running proxies and removes them from the registry.
// Unlike Shutdown, new proxies may be created afterward. It returns the IDs
// that were stopped cleanly.
func (pm *ProxyManager) StopAll(ctx context.Context) ([]string, error) {
	var toStop []string
	pm.proxies.Range(func(key, value any) bool {
		toStop = append(toStop, key.(string))
		return true
	})

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		errs       []error
		stoppedIDs []string
	)
	for _, id := range toStop {
		wg.Add(1)
		go func(proxyID string) {
			defer wg.Done()
			err := pm.Stop(ctx, proxyID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			stoppedIDs = append(stoppedIDs, proxyID)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), stoppedIDs...), errors.Join(append(errs, ctx.Err())...)
	}

	sort.Strings(stoppedIDs)
	return stoppedIDs, errors.Join(errs...)
}

// Shutdown stops all managed proxies and refuses new ones.
func (pm *ProxyManager) Shutdown(ctx context.Context) error {
	var shutdownErr error
	pm.shutdownOnce.Do(func() {
		pm.shuttingDown.Store(true)
		_, shutdownErr = pm.StopAll(ctx)
	})
	return shutdownErr
}
