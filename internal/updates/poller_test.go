package updates

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubbridge/internal/hub"
)

type scriptedSource struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (s *scriptedSource) GetUpdates(context.Context) (hub.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return hub.Value{}, s.err
	}
	if len(s.responses) == 0 {
		return hub.Value{Raw: []byte(`[]`)}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return hub.Value{Raw: []byte(r)}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckNowDeliversBatch(t *testing.T) {
	src := &scriptedSource{responses: []string{`[{"device":"d1","attribute":"switch","value":"on"}]`}}
	p := NewPoller(src, time.Minute, quietLogger())

	var got []hub.AttributeUpdate
	p.OnChange(func(u []hub.AttributeUpdate) { got = append(got, u...) })

	updates, err := p.CheckNow(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, updates, got)

	when, lastErr := p.LastPoll()
	assert.False(t, when.IsZero())
	assert.NoError(t, lastErr)
}

func TestCheckNowSkipsEmptyBatch(t *testing.T) {
	p := NewPoller(&scriptedSource{}, time.Minute, quietLogger())
	called := false
	p.OnChange(func([]hub.AttributeUpdate) { called = true })

	updates, err := p.CheckNow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.False(t, called)
}

func TestCheckNowRecordsError(t *testing.T) {
	boom := errors.New("unreachable")
	p := NewPoller(&scriptedSource{err: boom}, time.Minute, quietLogger())

	_, err := p.CheckNow(context.Background())
	assert.ErrorIs(t, err, boom)
	_, lastErr := p.LastPoll()
	assert.ErrorIs(t, lastErr, boom)
}

func TestStartPollsUntilCancelled(t *testing.T) {
	src := &scriptedSource{responses: []string{`[{"device":"d1","attribute":"level","value":10}]`}}
	p := NewPoller(src, 10*time.Millisecond, quietLogger())

	delivered := make(chan []hub.AttributeUpdate, 1)
	p.OnChange(func(u []hub.AttributeUpdate) { delivered <- u })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	select {
	case u := <-delivered:
		assert.Equal(t, "level", u[0].Attribute)
	case <-time.After(2 * time.Second):
		t.Fatal("no updates delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestDisabledPollerDoesNotCallHub(t *testing.T) {
	src := &scriptedSource{}
	p := NewPoller(src, 5*time.Millisecond, quietLogger())
	p.SetEnabled(false)
	assert.False(t, p.IsEnabled())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Start(ctx)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Zero(t, src.calls)
}
