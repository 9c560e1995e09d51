package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestPoolServesRequestsAcrossWorkers(t *testing.T) {
	var mu sync.Mutex
	served := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		served++
		mu.Unlock()
		fmt.Fprint(w, "ok")
	})

	p := New(handler, Config{Workers: 2, MaxConnectionRate: 4})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, ln) }()

	addr := ln.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	for i := 0; i < 10; i++ {
		resp, err := client.Get("http://" + addr + "/")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "ok" {
			t.Fatalf("request %d: body = %q", i, body)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if served != 10 {
		t.Errorf("served = %d, want 10", served)
	}
}

func TestPoolAppliesDefaults(t *testing.T) {
	p := New(http.NotFoundHandler(), Config{})
	if p.cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", p.cfg.Workers, DefaultWorkers)
	}
	if p.cfg.MaxConnectionRate != DefaultMaxConnectionRate {
		t.Errorf("MaxConnectionRate = %d, want %d", p.cfg.MaxConnectionRate, DefaultMaxConnectionRate)
	}
}

func TestPoolStopsServingAfterListenerClosed(t *testing.T) {
	p := New(http.NotFoundHandler(), Config{Workers: 1, MaxConnectionRate: 1})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Serve(context.Background(), ln) }()

	ln.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown on listener close, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after listener was closed")
	}
}
