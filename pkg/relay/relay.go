// Package relay implements the per-Relay controller: manual override,
// rule-driven signal, safety-debounced toggling, Activation bookkeeping,
// and board transmission, per spec §4.5.
package relay

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenloop-systems/gardend/pkg/model"
	"github.com/greenloop-systems/gardend/pkg/xerr"
)

// ActivationStore is the narrow slice of Store the controller needs to
// persist Activation open/close transitions.
type ActivationStore interface {
	InsertActivation(*model.Activation) error
	UpdateActivation(*model.Activation) error
}

// Transmitter sends the commanded state to the board and returns the
// board-confirmed state, which is authoritative over whatever was
// requested.
type Transmitter interface {
	SetRelay(relay *model.Relay, desired bool) (confirmed bool, ok bool)
}

// Controller tracks one Relay's runtime state across ticks: current_state,
// forced, last_toggle and the currently open Activation, none of which are
// persisted columns on Relay itself.
type Controller struct {
	Relay model.Relay

	safetySeconds time.Duration
	currentState  bool
	forced        bool
	lastToggle    time.Time
	current       *model.Activation
}

// NewController builds a Controller for relay with a safety debounce of
// safetySeconds between toggles.
func NewController(relay model.Relay, safetySeconds int) *Controller {
	return &Controller{
		Relay:         relay,
		safetySeconds: time.Duration(safetySeconds) * time.Second,
	}
}

// CurrentState is the last value successfully transmitted (or the last
// commanded value when transmission is ambiguous).
func (c *Controller) CurrentState() bool { return c.currentState }

// IsForced reports whether a manual override is currently pinning this
// relay on.
func (c *Controller) IsForced() bool { return c.forced }

// ActivationOpen reports whether this relay currently has an open
// Activation.
func (c *Controller) ActivationOpen() bool { return c.current != nil }

// Tick runs one pass of the relay controller. connected reflects whether
// this relay's slave currently has an open serial session; desiredSignal
// is the state requested for this tick (nil means no state was requested
// this tick). tx may be nil, in which case no
// transmission is attempted (used when the slave is offline).
func (c *Controller) Tick(connected bool, desiredSignal *bool, now time.Time, persist ActivationStore, tx Transmitter) error {
	if !c.Relay.Active {
		return nil
	}

	if c.Relay.Manual && connected {
		c.forced = true
		c.currentState = true
		if err := c.openActivation(now, persist); err != nil {
			return err
		}
	} else {
		c.forced = false
		if err := c.closeActivation(now, persist); err != nil {
			return err
		}
	}

	switch {
	case c.forced:
		c.transmit(tx)
	case desiredSignal != nil:
		c.setTo(*desiredSignal, now)
		c.transmit(tx)
	}

	return nil
}

// setTo requests a state change, applying the safety debounce. A denied
// toggle leaves current_state unchanged and is not an error.
func (c *Controller) setTo(signal bool, now time.Time) bool {
	if signal == c.currentState {
		return true
	}
	if now.Sub(c.lastToggle) < c.safetySeconds {
		return false
	}
	c.currentState = signal
	c.lastToggle = now
	return true
}

func (c *Controller) transmit(tx Transmitter) {
	if tx == nil {
		return
	}
	confirmed, ok := tx.SetRelay(&c.Relay, c.currentState)
	if ok {
		c.currentState = confirmed
	}
}

func (c *Controller) openActivation(now time.Time, persist ActivationStore) error {
	if c.current != nil {
		return nil
	}
	a := &model.Activation{
		UUID:       uuid.NewString(),
		Owner:      model.RelayOwner(c.Relay.UUID),
		StartTime:  now,
		LastUpdate: now,
	}
	if err := persist.InsertActivation(a); err != nil {
		return xerr.New(xerr.Persistence, "relay.openActivation", c.Relay.UUID, err)
	}
	c.current = a
	return nil
}

func (c *Controller) closeActivation(now time.Time, persist ActivationStore) error {
	if c.current == nil {
		return nil
	}
	end := now
	c.current.EndTime = &end
	c.current.LastUpdate = now
	if err := persist.UpdateActivation(c.current); err != nil {
		return xerr.New(xerr.Persistence, "relay.closeActivation", c.Relay.UUID, err)
	}
	c.current = nil
	return nil
}

// EndActivation force-closes any open activation, used during the
// shutdown closeout sequence.
func (c *Controller) EndActivation(now time.Time, persist ActivationStore) error {
	c.forced = false
	return c.closeActivation(now, persist)
}
