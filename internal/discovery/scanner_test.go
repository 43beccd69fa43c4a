package discovery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandSubnet(t *testing.T) {
	ips := expandSubnet("192.168.1")
	require.Len(t, ips, 254)
	assert.Equal(t, "192.168.1.1", ips[0])
	assert.Equal(t, "192.168.1.254", ips[253])
}

func TestProbeHostsFindsListeningHub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	s := NewScanner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Port = ln.Addr().(*net.TCPAddr).Port
	s.DialTimeout = 200 * time.Millisecond

	var mu sync.Mutex
	var found []DiscoveredHub
	s.probeHosts(context.Background(), []string{"127.0.0.1"}, func(h DiscoveredHub) {
		mu.Lock()
		defer mu.Unlock()
		found = append(found, h)
	})

	require.Len(t, found, 1)
	assert.Equal(t, DiscoveredHub{IP: "127.0.0.1", Name: "Hub", Source: "probe"}, found[0])
}

func TestProbeHostsSkipsClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewScanner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Port = port
	s.DialTimeout = 200 * time.Millisecond

	called := false
	s.probeHosts(context.Background(), []string{"127.0.0.1"}, func(DiscoveredHub) { called = true })
	assert.False(t, called)
}

func TestDiscoverReportsProgress(t *testing.T) {
	s := NewScanner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Services = nil
	s.SkipSubnets = true

	var phases []string
	hubs := s.Discover(context.Background(), func(p ScanProgress) { phases = append(phases, p.Phase) })
	assert.Empty(t, hubs)
	assert.Equal(t, []string{"mdns", "done"}, phases)
}
