// Package portalloc hands out TCP ports for new workspaces.
//
// Allocation is best effort: the port is free when the OS returns it,
// but nothing holds it afterwards. The caller only relies on it being
// distinct from the ports of already registered workspaces.
package portalloc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/lzjever/remote-workspace/internal/observability"
)

const DefaultMaxAttempts = 1000

var ErrExhausted = errors.New("portalloc: no usable port found")

type Allocator struct {
	// Host is the address bound while probing, default 127.0.0.1.
	Host        string
	MaxAttempts int

	listen func(network, address string) (net.Listener, error)
}

func New() *Allocator {
	return &Allocator{Host: "127.0.0.1", MaxAttempts: DefaultMaxAttempts}
}

// Allocate returns a port not contained in excluding. Ports the OS
// returns that are excluded, and transient bind failures, are retried.
func (a *Allocator) Allocate(ctx context.Context, excluding map[uint16]struct{}) (uint16, error) {
	host := a.Host
	if host == "" {
		host = "127.0.0.1"
	}
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	listen := a.listen
	if listen == nil {
		listen = net.Listen
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("portalloc: %w", err)
		}
		port, err := probe(listen, host)
		if err != nil {
			lastErr = err
			continue
		}
		if _, taken := excluding[port]; taken {
			observability.PortAllocRetryTotal.Inc()
			continue
		}
		return port, nil
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, lastErr)
	}
	return 0, fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
}

func probe(listen func(network, address string) (net.Listener, error), host string) (uint16, error) {
	ln, err := listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok || addr.Port <= 0 || addr.Port > 65535 {
		return 0, fmt.Errorf("unexpected listener address %v", ln.Addr())
	}
	return uint16(addr.Port), nil
}
