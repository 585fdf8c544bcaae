package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_EmptyAddrReturnsNil(t *testing.T) {
	require.Nil(t, New(""))
}

func TestPublish_NilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	require.NotPanics(t, func() {
		p.Publish(SlaveConnected, "slave-1", time.Now())
	})
}

func TestClose_NilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	require.NoError(t, p.Close())
}

func TestEventEncoding(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e := Event{Kind: RelayActivated, Subject: "relay-1", Timestamp: now}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, e, decoded)
}

func TestPublish_UnreachableBrokerIsNoOp(t *testing.T) {
	// New with a non-empty addr builds a real client but never dials
	// (go-redis connects lazily); Publish against an address nothing is
	// listening on should fail silently rather than block or panic.
	p := New("127.0.0.1:1")
	require.NotNil(t, p)
	require.NotPanics(t, func() {
		p.Publish(SlaveDisconnected, "slave-1", time.Now())
	})
	require.NoError(t, p.Close())
}
