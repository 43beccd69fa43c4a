package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"hubbridge/internal/bridge"
	"hubbridge/internal/direct"
	"hubbridge/internal/discovery"
	"hubbridge/internal/hub"
	"hubbridge/internal/logging"
	"hubbridge/internal/store"
	"hubbridge/internal/updates"
)

const defaultTimeout = 15 * time.Second

var errNoHub = errors.New("no hub profile configured; run 'hubbridge hub add' first")

type App struct {
	store    *store.Store
	profile  store.HubProfile
	client   *hub.Client
	devices  *bridge.Manager
	poller   *updates.Poller
	receiver *direct.Server
	scanner  *discovery.Scanner
	registry *prometheus.Registry
	logger   *slog.Logger
	timeout  time.Duration
	out      io.Writer
}

// newApp opens the store and sets up logging. Hub-facing parts are built by
// connect.
func newApp(cmd *cobra.Command) (*App, error) {
	configPath, _ := cmd.Flags().GetString("config")
	levelName, _ := cmd.Flags().GetString("log-level")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var (
		s   *store.Store
		err error
	)
	if configPath != "" {
		s, err = store.Open(configPath)
	} else {
		s, err = store.New()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if levelName == "" {
		levelName = s.GetSettings().LogLevel
	}
	logger := logging.New(logging.ParseLevel(levelName), cmd.ErrOrStderr())

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &App{
		store:    s,
		scanner:  discovery.NewScanner(logger),
		registry: registry,
		logger:   logger,
		timeout:  timeout,
		out:      cmd.OutOrStdout(),
	}, nil
}

// connect selects a hub profile and builds the client and everything that
// drives it.
func (a *App) connect(ref string) error {
	var (
		p  store.HubProfile
		ok bool
	)
	if ref != "" {
		p, ok = a.store.FindHub(ref)
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrHubNotFound, ref)
		}
	} else {
		p, ok = a.store.ActiveHub()
		if !ok {
			return errNoHub
		}
	}
	a.profile = p

	a.client = hub.New(p.Config(),
		hub.WithLogger(a.logger),
		hub.WithMetrics(hub.NewMetrics(a.registry)),
	)
	a.devices = bridge.NewManager(a.client, a.logger)

	settings := a.store.GetSettings()
	interval := time.Duration(settings.PollIntervalMs) * time.Millisecond
	if interval < 500*time.Millisecond {
		interval = updates.DefaultInterval
	}
	a.poller = updates.NewPoller(a.client, interval, a.logger)
	a.receiver = direct.NewServer(a.registry, a.logger)

	a.logger.Debug("hub selected", "hub", p.Name, "platform", p.Platform, "route", a.client.Route())
	return nil
}

func (a *App) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.timeout)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printValue writes a hub answer, or the matches of query when one is given.
func (a *App) printValue(v hub.Value, query string) error {
	if query == "" {
		return a.printJSON(v.Raw)
	}
	matches, err := v.Query(query)
	if err != nil {
		return err
	}
	return a.printJSON(matches)
}

// UseLocal points the selected profile at a new LAN address and applies it to
// the live client.
func (a *App) UseLocal(hubIP string, useLocal bool) error {
	p, err := a.store.UpdateHubConnection(a.profile.ID, hubIP, useLocal)
	if err != nil {
		return err
	}
	a.profile = p
	a.client.UpdateConnection(hubIP, useLocal)
	return nil
}

// Serve keeps the device cache current until ctx is cancelled. Changes are
// pushed through the direct receiver when the hub accepts the callback, and
// polled otherwise.
func (a *App) Serve(ctx context.Context, listen, advertiseIP string, useDirect bool) error {
	a.devices.OnChange(func(d hub.Device, u hub.AttributeUpdate) {
		a.logger.Info("attribute changed", "device", d.ID, "name", d.Name, "attribute", u.Attribute, "value", u.Value)
	})
	a.poller.OnChange(func(batch []hub.AttributeUpdate) {
		a.devices.Apply(batch)
	})
	a.receiver.OnUpdate(func(u hub.AttributeUpdate) {
		a.devices.Apply([]hub.AttributeUpdate{u})
	})
	a.receiver.OnInitial(func() {
		go func() {
			refreshCtx, cancel := a.callContext(ctx)
			defer cancel()
			if _, err := a.devices.Refresh(refreshCtx); err != nil {
				a.logger.Warn("refresh after hub announcement failed", "err", err)
			}
		}()
	})

	refreshCtx, cancel := a.callContext(ctx)
	_, err := a.devices.Refresh(refreshCtx)
	cancel()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	if useDirect {
		go func() { errCh <- a.receiver.ListenAndServe(ctx, listen) }()

		if err := a.enableDirect(ctx, listen, advertiseIP); err != nil {
			a.logger.Warn("direct callback unavailable, polling instead", "err", err)
		} else {
			a.poller.SetEnabled(false)
		}
	}

	go a.poller.Start(ctx)

	select {
	case <-ctx.Done():
		if useDirect {
			return <-errCh
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) enableDirect(ctx context.Context, listen, advertiseIP string) error {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("listen port %q: %w", portStr, err)
	}
	if advertiseIP == "" {
		advertiseIP = outboundIP(a.profile.HubIP)
	}
	if advertiseIP == "" {
		return errors.New("cannot determine an address the hub can reach; set --advertise-ip")
	}

	callCtx, cancel := a.callContext(ctx)
	defer cancel()
	_, err = hub.AsyncErr(callCtx, func(ctx context.Context) error {
		return a.client.EnableDirectCallback(ctx, advertiseIP, port)
	}).Await(callCtx)
	if err != nil {
		return err
	}
	a.logger.Info("direct callback enabled", "ip", advertiseIP, "port", port, "route", a.client.Route())
	return nil
}

// outboundIP returns the local address used to reach target, or a public
// address when target is empty. No packets are sent.
func outboundIP(target string) string {
	if target == "" {
		target = "8.8.8.8"
	}
	conn, err := net.Dial("udp", net.JoinHostPort(target, "80"))
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
