package proxy

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestProxyManagerLifecycle(t *testing.T) {
	target := newTarget(t)
	pm := NewProxyManager()
	ctx := context.Background()
	t.Cleanup(func() { pm.Shutdown(ctx) })

	p, err := pm.Create(ctx, ProxyConfig{ID: "app", TargetURL: target.URL})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !p.IsRunning() {
		t.Fatal("proxy should be running")
	}
	resp, err := http.Get("http://" + p.ListenAddr + "/__errlens/errors")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if _, err := pm.Create(ctx, ProxyConfig{ID: "app", TargetURL: target.URL}); !errors.Is(err, ErrProxyExists) {
		t.Errorf("duplicate Create err = %v, want ErrProxyExists", err)
	}
	if pm.ActiveCount() != 1 || pm.TotalStarted() != 1 {
		t.Errorf("active = %d, started = %d", pm.ActiveCount(), pm.TotalStarted())
	}

	got, err := pm.Get("app")
	if err != nil || got != p {
		t.Errorf("Get(app) = %v, %v", got, err)
	}
	if _, err := pm.Get("nope"); !errors.Is(err, ErrProxyNotFound) {
		t.Errorf("Get(nope) err = %v", err)
	}

	if _, err := pm.Create(ctx, ProxyConfig{ID: "admin", TargetURL: target.URL}); err != nil {
		t.Fatalf("Create(admin): %v", err)
	}
	list := pm.List()
	if len(list) != 2 || list[0].ID != "admin" || list[1].ID != "app" {
		t.Errorf("List() = %v", list)
	}

	if err := pm.Stop(ctx, "app"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.IsRunning() {
		t.Error("stopped proxy still running")
	}
	if err := pm.Stop(ctx, "app"); !errors.Is(err, ErrProxyNotFound) {
		t.Errorf("second Stop err = %v", err)
	}

	ids, err := pm.StopAll(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "admin" {
		t.Errorf("StopAll() = %v, %v", ids, err)
	}
	if pm.ActiveCount() != 0 {
		t.Errorf("active = %d after StopAll", pm.ActiveCount())
	}
}

func TestProxyManagerShutdown(t *testing.T) {
	target := newTarget(t)
	pm := NewProxyManager()
	ctx := context.Background()

	if _, err := pm.Create(ctx, ProxyConfig{ID: "a", TargetURL: target.URL}); err != nil {
		t.Fatal(err)
	}
	if err := pm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(pm.List()) != 0 {
		t.Error("proxies left after Shutdown")
	}
	if _, err := pm.Create(ctx, ProxyConfig{ID: "b", TargetURL: target.URL}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Create after Shutdown err = %v", err)
	}
}

func TestProxyManagerCreateInvalid(t *testing.T) {
	pm := NewProxyManager()
	if _, err := pm.Create(context.Background(), ProxyConfig{ID: "x", TargetURL: "gopher://nope"}); err == nil {
		t.Error("expected error for invalid target")
	}
	if len(pm.List()) != 0 {
		t.Error("failed create left a registry entry")
	}
}
