// Package rule implements the per-Rule hysteresis state machine: Element
// threshold tracking, AND/OR combination, RuleLimit trailing-window
// enforcement, and Activation open/close bookkeeping.
package rule

import (
	"time"

	"github.com/google/uuid"

	"github.com/greenloop-systems/gardend/pkg/model"
	"github.com/greenloop-systems/gardend/pkg/xerr"
)

// elementTrack is the three-valued hysteresis memory per Element.
type elementTrack int

const (
	trackUnknown elementTrack = iota
	trackBelowTrigger
	trackLatchedActive
)

// ActivationStore is the slice of Store that Evaluator needs to persist
// Activation open/close transitions, kept narrow so tests can supply an
// in-memory fake instead of a real database.
type ActivationStore interface {
	InsertActivation(*model.Activation) error
	UpdateActivation(*model.Activation) error
}

// Evaluator holds one Rule's children and runtime state across ticks.
type Evaluator struct {
	Rule         model.Rule
	Elements     []model.Element
	Consequences []model.Consequence
	Limits       []model.RuleLimit

	tracks      map[string]elementTrack
	activations []model.Activation // this rule's activations, for limit-window overlap
	current     *model.Activation  // currently open activation, or nil
}

// NewEvaluator builds an Evaluator. recentActivations should already have
// any orphaned (end_time=null) rows closed by the caller at startup —
// Evaluator assumes none of them are open.
func NewEvaluator(rule model.Rule, elements []model.Element, consequences []model.Consequence, limits []model.RuleLimit, recentActivations []model.Activation) *Evaluator {
	return &Evaluator{
		Rule:         rule,
		Elements:     elements,
		Consequences: consequences,
		Limits:       limits,
		tracks:       make(map[string]elementTrack, len(elements)),
		activations:  append([]model.Activation{}, recentActivations...),
	}
}

// Evaluate runs one tick of this rule's state machine and returns whether
// the rule passed. readings maps sensor UUID to its latest value; a
// missing entry or nil pointer means "no reading this tick".
func (e *Evaluator) Evaluate(readings map[string]*float64, scheduleActive bool, now time.Time, persist ActivationStore) (bool, error) {
	if !scheduleActive {
		if err := e.endActivation(now, persist); err != nil {
			return false, err
		}
		return false, nil
	}

	e.checkReadings(readings)
	pass := e.elementsPass() && e.limitsPass(now)

	if pass {
		if err := e.startActivation(now, persist); err != nil {
			return false, err
		}
	} else {
		if err := e.endActivation(now, persist); err != nil {
			return false, err
		}
	}
	return pass, nil
}

// ActiveConsequenceRelays returns the relay UUIDs this rule requests on,
// given that it just passed.
func (e *Evaluator) ActiveConsequenceRelays() []string {
	relays := make([]string, 0, len(e.Consequences))
	for _, c := range e.Consequences {
		relays = append(relays, c.RelayUUID)
	}
	return relays
}

// Active reports whether this rule currently has an open Activation.
func (e *Evaluator) Active() bool { return e.current != nil }

// Shutdown force-closes any open activation, used during the shutdown
// closeout sequence.
func (e *Evaluator) Shutdown(now time.Time, persist ActivationStore) error {
	return e.endActivation(now, persist)
}

func (e *Evaluator) checkReadings(readings map[string]*float64) {
	for _, el := range e.Elements {
		r, present := readings[el.SensorUUID]
		if !present || r == nil {
			e.tracks[el.UUID] = trackUnknown
			continue
		}
		reading := *r

		var triggered, inTarget bool
		switch {
		case el.MaxValue != nil:
			max, target := *el.MaxValue, el.TargetValue
			inTarget = reading >= target && reading < max
			triggered = reading >= max
		case el.MinValue != nil:
			min, target := *el.MinValue, el.TargetValue
			inTarget = reading <= target && reading > min
			triggered = reading <= min
		default:
			// Neither bound configured: ConfigurationFault, track goes unknown.
			e.tracks[el.UUID] = trackUnknown
			continue
		}

		if e.tracks[el.UUID] == trackLatchedActive {
			if inTarget {
				e.tracks[el.UUID] = trackLatchedActive
			} else {
				e.tracks[el.UUID] = trackBelowTrigger
			}
			continue
		}

		// From below-trigger or unknown: latch on trigger, else below-trigger.
		if triggered {
			e.tracks[el.UUID] = trackLatchedActive
		} else {
			e.tracks[el.UUID] = trackBelowTrigger
		}
	}
}

// elementsPass combines per-Element tracks per Rule.LogicType. AND passes
// iff every track is latched-active (an unknown or below-trigger element
// fails it); OR passes iff any track is latched-active (unknowns do not
// short-circuit a failure the way they do under AND).
func (e *Evaluator) elementsPass() bool {
	if len(e.Elements) == 0 {
		return true
	}

	switch e.Rule.LogicType {
	case model.LogicAnd:
		for _, el := range e.Elements {
			if e.tracks[el.UUID] != trackLatchedActive {
				return false
			}
		}
		return true
	case model.LogicOr:
		for _, el := range e.Elements {
			if e.tracks[el.UUID] == trackLatchedActive {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (e *Evaluator) limitsPass(now time.Time) bool {
	for _, limit := range e.Limits {
		if limitExceeded(limit, e.activations, now) {
			return false
		}
	}
	return true
}

// limitExceeded computes the total overlap, in seconds, between
// activations (treating any still-open one as ending "now") and the
// trailing window [now-every, now], reporting whether it meets or exceeds
// period.
func limitExceeded(limit model.RuleLimit, activations []model.Activation, now time.Time) bool {
	windowStart := now.Add(-time.Duration(limit.Every) * time.Second)

	var total time.Duration
	for _, a := range activations {
		start := a.StartTime
		if start.Before(windowStart) {
			start = windowStart
		}
		end := a.EffectiveEnd(now)
		if end.After(now) {
			end = now
		}
		if end.After(start) {
			total += end.Sub(start)
		}
	}

	return total.Seconds() >= float64(limit.Period)
}

func (e *Evaluator) startActivation(now time.Time, persist ActivationStore) error {
	if e.current != nil {
		return nil
	}

	a := &model.Activation{
		UUID:       uuid.NewString(),
		Owner:      model.RuleOwner(e.Rule.UUID),
		StartTime:  now,
		LastUpdate: now,
	}
	if err := persist.InsertActivation(a); err != nil {
		return xerr.New(xerr.Persistence, "rule.startActivation", e.Rule.UUID, err)
	}

	e.current = a
	e.activations = append(e.activations, *a)
	return nil
}

func (e *Evaluator) endActivation(now time.Time, persist ActivationStore) error {
	if e.current == nil {
		return nil
	}

	end := now
	e.current.EndTime = &end
	e.current.LastUpdate = now
	if err := persist.UpdateActivation(e.current); err != nil {
		return xerr.New(xerr.Persistence, "rule.endActivation", e.Rule.UUID, err)
	}

	for i := range e.activations {
		if e.activations[i].UUID == e.current.UUID {
			e.activations[i] = *e.current
		}
	}
	e.current = nil
	return nil
}
