package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := NewFuture[int]()
	assert.True(t, f.Resolve(1, nil))
	assert.False(t, f.Resolve(2, errors.New("late error")))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureThenCalledExactlyOnce(t *testing.T) {
	f := NewFuture[string]()
	var calls atomic.Int32
	got := make(chan string, 2)
	f.Then(func(v string, err error) {
		calls.Add(1)
		got <- v
	})

	// Simulates an error event racing a completion event.
	f.Resolve("data", nil)
	f.Resolve("", errors.New("socket hang up"))

	select {
	case v := <-got:
		assert.Equal(t, "data", v)
	case <-time.After(time.Second):
		t.Fatal("continuation was not invoked")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFutureAwaitHonoursContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAsyncDeliversFailureWithZeroValue(t *testing.T) {
	ft := &fakeTransport{err: errors.New("dial tcp: no route to host")}
	c := newTestClient(Config{BaseURL: cloudBase, AppID: "APP123"}, ft)

	f := Async(context.Background(), c.ListDevices)
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future never resolved")
	}
	v, err := f.Await(context.Background())
	assert.True(t, v.IsZero())
	assert.ErrorIs(t, err, ErrTransport)
}

func TestAsyncErr(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(Config{BaseURL: cloudBase, AppID: "APP123"}, ft)

	f := AsyncErr(context.Background(), func(ctx context.Context) error {
		return c.RunCommand(ctx, "DEV1", "off", nil)
	})
	_, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cloudBase+"APP123/DEV1/command/off?access_token=", ft.last(t).URL)
}
