package updates

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hubbridge/internal/hub"
)

// Source is the hub call the poller drives.
type Source interface {
	GetUpdates(ctx context.Context) (hub.Value, error)
}

type ChangeHandler func(updates []hub.AttributeUpdate)

const DefaultInterval = 5 * time.Second

// Poller asks the hub for attribute changes on a fixed interval. It is the
// fallback when the hub cannot push to the direct-callback receiver.
type Poller struct {
	mu       sync.RWMutex
	source   Source
	interval time.Duration
	enabled  bool
	onChange ChangeHandler
	lastPoll time.Time
	lastErr  error
	reset    chan struct{}
	logger   *slog.Logger
}

func NewPoller(source Source, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		source:   source,
		interval: interval,
		enabled:  true,
		reset:    make(chan struct{}, 1),
		logger:   logger.With("component", "updates"),
	}
}

func (p *Poller) OnChange(handler ChangeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = handler
}

func (p *Poller) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

func (p *Poller) IsEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// SetInterval takes effect on the next tick of a running poller.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	select {
	case p.reset <- struct{}{}:
	default:
	}
}

// LastPoll returns the time and error of the most recent poll.
func (p *Poller) LastPoll() (time.Time, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPoll, p.lastErr
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.RLock()
	interval := p.interval
	p.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-p.reset:
			p.mu.RLock()
			ticker.Reset(p.interval)
			p.mu.RUnlock()
		case <-ticker.C:
			if !p.IsEnabled() {
				continue
			}
			_, _ = p.CheckNow(ctx)
		}
	}
}

// CheckNow polls once and delivers a non-empty batch to the handler.
func (p *Poller) CheckNow(ctx context.Context) ([]hub.AttributeUpdate, error) {
	v, err := p.source.GetUpdates(ctx)
	var updates []hub.AttributeUpdate
	if err == nil {
		updates, err = hub.DecodeUpdates(v)
	}

	p.mu.Lock()
	p.lastPoll = time.Now()
	p.lastErr = err
	handler := p.onChange
	p.mu.Unlock()

	if err != nil {
		p.logger.Debug("poll failed", "err", err)
		return nil, err
	}
	if len(updates) > 0 {
		p.logger.Debug("updates received", "count", len(updates))
		if handler != nil {
			handler(updates)
		}
	}
	return updates, nil
}
