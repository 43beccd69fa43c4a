package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"hubbridge/internal/hub"
)

// DefaultServices are the mDNS service types hubs advertise themselves under.
var DefaultServices = []string{"_smartthings._tcp", "_hubitat._tcp"}

type DiscoveredHub struct {
	IP     string `json:"ip"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

type ScanProgress struct {
	Phase   string          `json:"phase"`
	Message string          `json:"message"`
	Hubs    []DiscoveredHub `json:"hubs,omitempty"`
}

// Scanner looks for hubs on the local network, first over mDNS and then by
// probing every address of the local /24 subnets for the hub event port.
type Scanner struct {
	Services    []string
	Port        int
	MDNSTimeout time.Duration
	DialTimeout time.Duration
	Concurrency int
	SkipSubnets bool
	logger      *slog.Logger
}

func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		Services:    DefaultServices,
		Port:        hub.LocalHubPort,
		MDNSTimeout: 3 * time.Second,
		DialTimeout: 800 * time.Millisecond,
		Concurrency: 50,
		logger:      logger.With("component", "discovery"),
	}
}

func (s *Scanner) Discover(ctx context.Context, onProgress func(ScanProgress)) []DiscoveredHub {
	var mu sync.Mutex
	seen := make(map[string]bool)
	var hubs []DiscoveredHub

	add := func(h DiscoveredHub) {
		mu.Lock()
		defer mu.Unlock()
		if seen[h.IP] {
			return
		}
		seen[h.IP] = true
		hubs = append(hubs, h)
	}
	progress := func(phase, message string) {
		s.logger.Info(message, "phase", phase)
		if onProgress != nil {
			mu.Lock()
			found := append([]DiscoveredHub(nil), hubs...)
			mu.Unlock()
			onProgress(ScanProgress{Phase: phase, Message: message, Hubs: found})
		}
	}

	progress("mdns", "Searching for hubs via mDNS...")
	found := s.discoverViaMDNS(ctx, add)

	if found == 0 && !s.SkipSubnets {
		subnets := getLocalSubnets()
		progress("probe", fmt.Sprintf("Probing %d subnet(s) for port %d...", len(subnets), s.Port))
		for _, subnet := range subnets {
			if ctx.Err() != nil {
				break
			}
			s.probeHosts(ctx, expandSubnet(subnet), add)
		}
	}

	mu.Lock()
	n := len(hubs)
	mu.Unlock()
	progress("done", fmt.Sprintf("Scan complete, found %d hub(s)", n))
	return hubs
}

func (s *Scanner) discoverViaMDNS(ctx context.Context, add func(DiscoveredHub)) int {
	found := 0
	for _, service := range s.Services {
		if ctx.Err() != nil {
			return found
		}
		entries := make(chan *mdns.ServiceEntry, 10)
		go func(service string) {
			params := &mdns.QueryParam{
				Service:             service,
				Domain:              "local",
				Timeout:             s.MDNSTimeout,
				Entries:             entries,
				DisableIPv6:         true,
				WantUnicastResponse: true,
			}
			if err := mdns.Query(params); err != nil {
				s.logger.Debug("mDNS query failed", "service", service, "err", err)
			}
			close(entries)
		}(service)

		for entry := range entries {
			if entry.AddrV4 == nil {
				continue
			}
			s.logger.Debug("mDNS entry", "name", entry.Name, "addr", entry.AddrV4, "port", entry.Port)
			add(DiscoveredHub{IP: entry.AddrV4.String(), Name: entry.Name, Source: "mdns"})
			found++
		}
	}
	return found
}

func (s *Scanner) probeHosts(ctx context.Context, ips []string, add func(DiscoveredHub)) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)

	for _, ip := range ips {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.acceptsEvents(ctx, addr) {
				s.logger.Info("found hub via probe", "ip", addr)
				add(DiscoveredHub{IP: addr, Name: "Hub", Source: "probe"})
			}
		}(ip)
	}
	wg.Wait()
}

func (s *Scanner) acceptsEvents(ctx context.Context, ip string) bool {
	d := net.Dialer{Timeout: s.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(s.Port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func getLocalSubnets() []string {
	var subnets []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil {
				continue
			}
			ones, bits := ipNet.Mask.Size()
			if ones == 0 || bits == 0 || ones > 24 {
				continue
			}
			subnets = append(subnets, fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2]))
		}
	}
	return subnets
}

func expandSubnet(prefix string) []string {
	ips := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		ips = append(ips, fmt.Sprintf("%s.%d", prefix, i))
	}
	return ips
}
