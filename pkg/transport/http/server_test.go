package http

import (
	"context"
	"io"
	"net"
	gohttp "net/http"
	"testing"
	"time"
)

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	routes, _ := newTestRoutes(t)
	srv, err := NewServer(routes, WithAddr("127.0.0.1:0"))
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)

	resp, err := gohttp.Get("http://" + addr + "/whoami")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d: %s", resp.StatusCode, gohttp.StatusOK, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func TestServerRunStopsWithContext(t *testing.T) {
	routes, _ := newTestRoutes(t)
	srv, err := NewServer(routes, WithAddr("127.0.0.1:0"), WithShutdownTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	routes, _ := newTestRoutes(t)
	srv, err := NewServer(routes,
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithTimeouts(5*time.Second, 7*time.Second),
		WithMetricsPath("/internal/metrics"),
		WithShutdownTimeout(10*time.Second),
	)
	if err != nil {
		t.Fatal(err)
	}

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.httpServer.ReadTimeout != 5*time.Second || srv.httpServer.WriteTimeout != 7*time.Second {
		t.Errorf("timeouts = %v/%v, want 5s/7s", srv.httpServer.ReadTimeout, srv.httpServer.WriteTimeout)
	}
	if srv.adapter.config.MetricsPath != "/internal/metrics" {
		t.Errorf("metrics path = %q", srv.adapter.config.MetricsPath)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
}
