package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueQuery(t *testing.T) {
	v := Value{Raw: []byte(`{"deviceList":[{"deviceid":"a","attributes":{"switch":"on"}},{"deviceid":"b","attributes":{"switch":"off"}}]}`)}

	ids, err := v.Query("$.deviceList[*].deviceid")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, ids)

	sw, ok := v.First("$.deviceList[1].attributes.switch")
	require.True(t, ok)
	assert.Equal(t, "off", sw)

	_, ok = Value{}.First("$.x")
	assert.False(t, ok)
}

func TestDecodeUpdates(t *testing.T) {
	bare := Value{Raw: []byte(`[{"device":"d1","attribute":"switch","value":"on","date":"2024-05-01T10:00:00.000+0000"}]`)}
	updates, err := DecodeUpdates(bare)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "d1", updates[0].DeviceID)
	assert.Equal(t, 2024, updates[0].Time().Year())

	wrapped := Value{Raw: []byte(`{"attributes":[{"device":"d2","attribute":"level","value":40}]}`)}
	updates, err = DecodeUpdates(wrapped)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, float64(40), updates[0].Value)
	assert.True(t, updates[0].Time().IsZero())

	updates, err = DecodeUpdates(Value{})
	require.NoError(t, err)
	assert.Empty(t, updates)

	_, err = DecodeUpdates(Value{Raw: []byte(`"nope"`)})
	assert.Error(t, err)
}

func TestDecodeDeviceAndSubscription(t *testing.T) {
	d, err := DecodeDevice(Value{Raw: []byte(`{"deviceid":"d1","name":"Lamp","commands":{"on":[],"off":[]},"capabilities":{"Switch":1}}`)})
	require.NoError(t, err)
	assert.True(t, d.HasCommand("on"))
	assert.False(t, d.HasCommand("setLevel"))
	assert.True(t, d.HasCapability("Switch"))

	s, err := DecodeSubscription(Value{Raw: []byte(`{"pubnub_subscribekey":"sub-c-1","pubnub_channel":"ch"}`)})
	require.NoError(t, err)
	assert.Equal(t, "sub-c-1", s.SubscribeKey)
	assert.Equal(t, "ch", s.Channel)

	_, err = DecodeDevice(Value{})
	assert.Error(t, err)
}
