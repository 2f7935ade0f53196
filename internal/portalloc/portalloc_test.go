package portalloc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// fixedListener reports a preset port without binding anything.
type fixedListener struct {
	net.Listener
	port int
}

func (l fixedListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: l.port} }
func (l fixedListener) Close() error   { return nil }

func scripted(ports ...int) func(string, string) (net.Listener, error) {
	i := 0
	return func(string, string) (net.Listener, error) {
		if i >= len(ports) {
			return nil, errors.New("exhausted script")
		}
		p := ports[i]
		i++
		if p < 0 {
			return nil, errors.New("address in use")
		}
		return fixedListener{port: p}, nil
	}
}

func TestAllocate_Real(t *testing.T) {
	port, err := New().Allocate(context.Background(), nil)
	require.NoError(t, err)
	require.NotZero(t, port)
}

func TestAllocate_SkipsExcludedAndFailures(t *testing.T) {
	a := &Allocator{MaxAttempts: 10, listen: scripted(4000, -1, 4001, 4002)}
	excluding := map[uint16]struct{}{4000: {}, 4001: {}}

	port, err := a.Allocate(context.Background(), excluding)
	require.NoError(t, err)
	require.Equal(t, uint16(4002), port)
}

func TestAllocate_Exhausted(t *testing.T) {
	a := &Allocator{MaxAttempts: 3, listen: scripted(4000, 4000, 4000)}
	_, err := a.Allocate(context.Background(), map[uint16]struct{}{4000: {}})
	require.ErrorIs(t, err, ErrExhausted)
}

func TestAllocate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Allocate(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAllocate_DistinctFromRegistered(t *testing.T) {
	a := New()
	taken := map[uint16]struct{}{}
	for i := 0; i < 20; i++ {
		port, err := a.Allocate(context.Background(), taken)
		require.NoError(t, err, "allocate %d", i)
		require.NotContains(t, taken, port, "port handed out twice")
		taken[port] = struct{}{}
	}
}
