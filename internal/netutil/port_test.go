package netutil

import (
	"errors"
	"net"
	"testing"
)

func TestListenPreferredFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	got, err := Listen(addr, nil, false)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = got.Close() }()
	if got.Addr().String() != addr {
		t.Fatalf("Listen() addr = %q, want %q", got.Addr(), addr)
	}
}

func TestListenFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	free, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen free: %v", err)
	}
	freeAddr := free.Addr().String()
	_ = free.Close()

	got, err := Listen(busy.Addr().String(), []string{busy.Addr().String(), freeAddr}, true)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = got.Close() }()
	if got.Addr().String() != freeAddr {
		t.Fatalf("Listen() addr = %q, want %q", got.Addr(), freeAddr)
	}
}

func TestListenNoFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen busy: %v", err)
	}
	defer func() { _ = busy.Close() }()

	if _, err := Listen(busy.Addr().String(), nil, false); err == nil {
		t.Fatal("expected error for busy preferred address without fallback")
	}
	if _, err := Listen(busy.Addr().String(), []string{busy.Addr().String()}, true); !errors.Is(err, ErrNoAddr) {
		t.Fatalf("Listen() error = %v, want ErrNoAddr", err)
	}
}

func TestListenKeepsSocket(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil, false)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer func() { _ = ln.Close() }()

	if _, err := net.Listen("tcp", ln.Addr().String()); err == nil {
		t.Fatal("returned listener should hold its address")
	}
}
