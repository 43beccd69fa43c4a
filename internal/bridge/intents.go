package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"hubbridge/internal/hub"
)

var ErrUnsupportedCommand = errors.New("device does not support command")

const (
	minKelvin = 2000
	maxKelvin = 9000
)

// Run sends command with positional arguments. The SmartApp reads them as
// value1, value2, ... so they are keyed that way on the wire.
func (m *Manager) Run(ctx context.Context, deviceID, command string, args ...any) error {
	if d, ok := m.Device(deviceID); ok && len(d.Commands) > 0 && !d.HasCommand(command) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, command, deviceID)
	}

	var values any
	if len(args) > 0 {
		keyed := make(map[string]any, len(args))
		for i, a := range args {
			keyed["value"+strconv.Itoa(i+1)] = a
		}
		values = keyed
	}

	m.logger.Info("run command", "device", deviceID, "command", command, "args", len(args))
	if err := m.hub.RunCommand(ctx, deviceID, command, values); err != nil {
		m.logger.Warn("command failed", "device", deviceID, "command", command, "err", err)
		return err
	}
	return nil
}

func (m *Manager) TurnOn(ctx context.Context, deviceID string) error {
	return m.Run(ctx, deviceID, "on")
}

func (m *Manager) TurnOff(ctx context.Context, deviceID string) error {
	return m.Run(ctx, deviceID, "off")
}

func (m *Manager) Lock(ctx context.Context, deviceID string) error {
	return m.Run(ctx, deviceID, "lock")
}

func (m *Manager) Unlock(ctx context.Context, deviceID string) error {
	return m.Run(ctx, deviceID, "unlock")
}

// SetLevel sets brightness or position in percent, clamped to 0..100.
func (m *Manager) SetLevel(ctx context.Context, deviceID string, level int) error {
	return m.Run(ctx, deviceID, "setLevel", clamp(level, 0, 100))
}

func (m *Manager) SetColorTemperature(ctx context.Context, deviceID string, kelvin int) error {
	return m.Run(ctx, deviceID, "setColorTemperature", clamp(kelvin, minKelvin, maxKelvin))
}

// SetColor takes hue in degrees and saturation/brightness in 0..1, the
// scale bridges use, and sends the hub's percentage map.
func (m *Manager) SetColor(ctx context.Context, deviceID string, h, s, b float64) error {
	return m.Run(ctx, deviceID, "setColor", hsbToHubColor(h, s, b))
}

func hsbToHubColor(h, s, b float64) map[string]any {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return map[string]any{
		"hue":        clamp(int(math.Round(h/360*100)), 0, 100),
		"saturation": clamp(int(math.Round(s*100)), 0, 100),
		"level":      clamp(int(math.Round(b*100)), 0, 100),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ Commander = (*hub.Client)(nil)
