package ws

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoutesMarketPayloadByToken(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	payload, err := json.Marshal(map[string]any{"token": token, "seq": 4})
	require.NoError(t, err)

	msg, ok := frame(marketPattern, payload)
	require.True(t, ok)
	assert.Equal(t, "market:0x00000000000000000000000000000000000000a1", msg.channel)

	var env envelope
	require.NoError(t, json.Unmarshal(msg.data, &env))
	assert.Equal(t, "market", env.Type)
	assert.JSONEq(t, string(payload), string(env.Payload))

	_, ok = frame(marketPattern, []byte("not json"))
	assert.False(t, ok)

	msg, ok = frame("status", []byte(`{"degraded":true}`))
	require.True(t, ok)
	assert.Equal(t, "status", msg.channel)
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{"market:*": true, "status": true}}
	assert.True(t, c.isSubscribed("market:0xAbC"))
	assert.True(t, c.isSubscribed("status"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"market:0xABC"}})
	assert.True(t, c.isSubscribed("market:0xabc"))
	assert.False(t, c.isSubscribed("market:0xdef"))
	assert.True(t, c.isSubscribed("status"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"STATUS"}})
	assert.False(t, c.isSubscribed("status"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"market:*"}})
	assert.True(t, c.isSubscribed("market:0xdef"))
}
