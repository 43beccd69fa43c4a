package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hubbridge/internal/hub"
)

// Commander is the subset of *hub.Client the manager drives.
type Commander interface {
	ListDevices(ctx context.Context) (hub.Value, error)
	GetDevice(ctx context.Context, deviceID string) (hub.Value, error)
	RunCommand(ctx context.Context, deviceID, command string, values any) error
}

type ChangeHandler func(device hub.Device, update hub.AttributeUpdate)

// Manager caches the hub's devices and translates bridge intents into hub
// commands.
type Manager struct {
	mu       sync.RWMutex
	hub      Commander
	devices  map[string]hub.Device
	location hub.Location
	onChange ChangeHandler
	logger   *slog.Logger
}

func NewManager(c Commander, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		hub:     c,
		devices: make(map[string]hub.Device),
		logger:  logger.With("component", "bridge"),
	}
}

func (m *Manager) OnChange(fn ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Refresh replaces the cache with the hub's current device list.
func (m *Manager) Refresh(ctx context.Context) ([]hub.Device, error) {
	v, err := m.hub.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	list, err := hub.DecodeDeviceList(v)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.location = list.Location
	m.devices = make(map[string]hub.Device, len(list.Devices))
	for _, d := range list.Devices {
		if d.ID == "" {
			continue
		}
		m.devices[d.ID] = d
	}
	m.mu.Unlock()

	m.logger.Info("devices refreshed", "count", len(list.Devices), "location", list.Location.Name)
	return m.Devices(), nil
}

// Query fetches a single device from the hub and stores the result.
func (m *Manager) Query(ctx context.Context, deviceID string) (hub.Device, error) {
	v, err := m.hub.GetDevice(ctx, deviceID)
	if err != nil {
		return hub.Device{}, fmt.Errorf("query %s: %w", deviceID, err)
	}
	d, err := hub.DecodeDevice(v)
	if err != nil {
		return hub.Device{}, err
	}
	if d.ID == "" {
		d.ID = deviceID
	}

	m.mu.Lock()
	if prev, ok := m.devices[deviceID]; ok {
		d = merge(prev, d)
	}
	m.devices[deviceID] = d
	m.mu.Unlock()
	return d, nil
}

// merge keeps the cached fields that a /query answer leaves out.
func merge(prev, next hub.Device) hub.Device {
	if next.Name == "" {
		next.Name = prev.Name
	}
	if next.Capabilities == nil {
		next.Capabilities = prev.Capabilities
	}
	if next.Commands == nil {
		next.Commands = prev.Commands
	}
	attrs := make(map[string]any, len(prev.Attributes)+len(next.Attributes))
	for k, v := range prev.Attributes {
		attrs[k] = v
	}
	for k, v := range next.Attributes {
		attrs[k] = v
	}
	next.Attributes = attrs
	return next
}

// Apply folds attribute updates into the cache. Updates for devices that
// are not cached are skipped. It returns how many were applied.
func (m *Manager) Apply(updates []hub.AttributeUpdate) int {
	applied := 0
	for _, u := range updates {
		m.mu.Lock()
		d, ok := m.devices[u.DeviceID]
		if ok {
			attrs := make(map[string]any, len(d.Attributes)+1)
			for k, v := range d.Attributes {
				attrs[k] = v
			}
			attrs[u.Attribute] = u.Value
			d.Attributes = attrs
			m.devices[u.DeviceID] = d
		}
		fn := m.onChange
		m.mu.Unlock()

		if !ok {
			m.logger.Debug("update for unknown device", "device", u.DeviceID, "attribute", u.Attribute)
			continue
		}
		applied++
		if fn != nil {
			fn(d, u)
		}
	}
	return applied
}

func (m *Manager) Device(id string) (hub.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

func (m *Manager) Location() hub.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.location
}

func (m *Manager) Devices() []hub.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]hub.Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}
