package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greenloop-systems/gardend/pkg/model"
)

type fakeStore struct {
	inserted []model.Activation
	updated  []model.Activation
}

func (f *fakeStore) InsertActivation(a *model.Activation) error {
	f.inserted = append(f.inserted, *a)
	return nil
}

func (f *fakeStore) UpdateActivation(a *model.Activation) error {
	f.updated = append(f.updated, *a)
	return nil
}

type fakeTransmitter struct {
	confirm bool
	ok      bool
	calls   int
}

func (f *fakeTransmitter) SetRelay(relay *model.Relay, desired bool) (bool, bool) {
	f.calls++
	if !f.ok {
		return false, false
	}
	if f.confirm {
		return desired, true
	}
	return !desired, true // board disagrees, to exercise confirmed-state override
}

func boolPtr(b bool) *bool { return &b }

func TestSafetyDebounce(t *testing.T) {
	relay := model.Relay{UUID: "relay-1", SlaveUUID: "slave-1", Active: true, Pin: 3}
	c := NewController(relay, 10)
	store := &fakeStore{}
	tx := &fakeTransmitter{confirm: true, ok: true}

	base := time.Unix(0, 0)

	// t=0: on -> accepted.
	require.NoError(t, c.Tick(true, boolPtr(true), base, store, tx))
	require.True(t, c.CurrentState())

	// t=5: off -> denied, stays on.
	require.NoError(t, c.Tick(true, boolPtr(false), base.Add(5*time.Second), store, tx))
	require.True(t, c.CurrentState())

	// t=11: off -> accepted.
	require.NoError(t, c.Tick(true, boolPtr(false), base.Add(11*time.Second), store, tx))
	require.False(t, c.CurrentState())
}

func TestManualOverride(t *testing.T) {
	relay := model.Relay{UUID: "relay-1", SlaveUUID: "slave-1", Active: true, Manual: true, Pin: 3}
	c := NewController(relay, 10)
	store := &fakeStore{}
	tx := &fakeTransmitter{confirm: true, ok: true}

	now := time.Now()
	require.NoError(t, c.Tick(true, nil, now, store, tx))
	require.True(t, c.IsForced())
	require.True(t, c.CurrentState())
	require.Len(t, store.inserted, 1)

	// Still forced next tick: activation stays open, no second insert.
	require.NoError(t, c.Tick(true, nil, now.Add(time.Second), store, tx))
	require.Len(t, store.inserted, 1)
	require.Len(t, store.updated, 0)

	// Flip manual off: activation closes.
	c.Relay.Manual = false
	require.NoError(t, c.Tick(true, nil, now.Add(2*time.Second), store, tx))
	require.False(t, c.IsForced())
	require.Len(t, store.updated, 1)
}

func TestInactiveRelaySkipsEntirely(t *testing.T) {
	relay := model.Relay{UUID: "relay-1", Active: false}
	c := NewController(relay, 10)
	tx := &fakeTransmitter{confirm: true, ok: true}

	require.NoError(t, c.Tick(true, boolPtr(true), time.Now(), &fakeStore{}, tx))
	require.Equal(t, 0, tx.calls)
}

func TestTransmitConfirmedStateOverridesRequested(t *testing.T) {
	relay := model.Relay{UUID: "relay-1", Active: true}
	c := NewController(relay, 10)
	tx := &fakeTransmitter{confirm: false, ok: true}

	require.NoError(t, c.Tick(true, boolPtr(true), time.Now(), &fakeStore{}, tx))
	require.False(t, c.CurrentState(), "board-confirmed state must override the requested one")
}

func TestNoSignalNotForcedNoTransmit(t *testing.T) {
	relay := model.Relay{UUID: "relay-1", Active: true}
	c := NewController(relay, 10)
	tx := &fakeTransmitter{confirm: true, ok: true}

	require.NoError(t, c.Tick(true, nil, time.Now(), &fakeStore{}, tx))
	require.Equal(t, 0, tx.calls)
}

func TestEndActivationIdempotent(t *testing.T) {
	relay := model.Relay{UUID: "relay-1", Active: true, Manual: true}
	c := NewController(relay, 10)
	store := &fakeStore{}
	tx := &fakeTransmitter{confirm: true, ok: true}

	now := time.Now()
	require.NoError(t, c.Tick(true, nil, now, store, tx))
	require.NoError(t, c.EndActivation(now.Add(time.Second), store))
	require.Len(t, store.updated, 1)

	// Closing again is a no-op.
	require.NoError(t, c.EndActivation(now.Add(2*time.Second), store))
	require.Len(t, store.updated, 1)
}
