// Package garden wires Store, ConnectionManager, Scheduler, Rule evaluators
// and Relay controllers into the single cooperative tick loop described by
// the control core: discover → poll → schedule → evaluate rules → drive
// relays → bookkeeping.
package garden

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/greenloop-systems/gardend/pkg/eventbus"
	"github.com/greenloop-systems/gardend/pkg/model"
	"github.com/greenloop-systems/gardend/pkg/relay"
	"github.com/greenloop-systems/gardend/pkg/rule"
	"github.com/greenloop-systems/gardend/pkg/schedule"
	"github.com/greenloop-systems/gardend/pkg/store"
	"github.com/greenloop-systems/gardend/pkg/xerr"
	"github.com/greenloop-systems/gardend/pkg/xlog"
)

// epoch is the since-value used to load a rule's full activation history at
// startup; RuleLimit windows are bounded in practice, but loading everything
// once at boot is simpler than tracking each limit's Every separately.
const epoch = "1970-01-01T00:00:00Z"

// connectionSource is the slice of *connection.Manager the tick loop needs.
// Kept narrow, as with rule.ActivationStore and relay.Transmitter, so tests
// can drive Garden without opening real serial ports.
type connectionSource interface {
	MakeConnections() error
	Iterate() []string
	Despawn()
	ReadSensor(sensor *model.Sensor) (value float64, ok bool)
	SetRelay(relay *model.Relay, requestedState bool) (confirmed bool, ok bool)
}

// Garden owns every in-memory entity collection and runtime controller for
// one daemon instance. It is the only component that mutates Slave.connected,
// and the sole caller of ConnectionManager and the rule/relay runtime types.
type Garden struct {
	store     *store.Store
	conn      connectionSource
	publisher *eventbus.Publisher

	slaves    map[string]*model.Slave
	sensors   map[string]*model.Sensor
	schedules map[string]*model.Schedule
	relays    map[string]*relay.Controller
	rules     map[string]*rule.Evaluator
	ruleSched map[string]string // rule uuid -> schedule uuid

	tick uint64
}

// New builds a Garden from st's current contents: it loads every entity
// collection, closes orphaned open activations left by an unclean shutdown
// (invariant i), and constructs one Evaluator per Rule and one Controller
// per Relay. conn and publisher may be used immediately after this returns.
func New(st *store.Store, conn connectionSource, safetySeconds int, publisher *eventbus.Publisher) (*Garden, error) {
	if err := closeOrphanedActivations(st); err != nil {
		return nil, err
	}

	slaveRows, err := st.LoadSlaves()
	if err != nil {
		return nil, err
	}
	sensorRows, err := st.LoadSensors()
	if err != nil {
		return nil, err
	}
	relayRows, err := st.LoadRelays()
	if err != nil {
		return nil, err
	}
	scheduleRows, err := st.LoadSchedules()
	if err != nil {
		return nil, err
	}
	ruleRows, err := st.LoadRules()
	if err != nil {
		return nil, err
	}
	elementRows, err := st.LoadElements()
	if err != nil {
		return nil, err
	}
	consequenceRows, err := st.LoadConsequences()
	if err != nil {
		return nil, err
	}
	limitRows, err := st.LoadRuleLimits()
	if err != nil {
		return nil, err
	}

	g := &Garden{
		store:     st,
		conn:      conn,
		publisher: publisher,
		slaves:    make(map[string]*model.Slave, len(slaveRows)),
		sensors:   make(map[string]*model.Sensor, len(sensorRows)),
		schedules: make(map[string]*model.Schedule, len(scheduleRows)),
		relays:    make(map[string]*relay.Controller, len(relayRows)),
		rules:     make(map[string]*rule.Evaluator, len(ruleRows)),
		ruleSched: make(map[string]string, len(ruleRows)),
	}

	for i := range slaveRows {
		g.slaves[slaveRows[i].UUID] = &slaveRows[i]
	}
	for i := range sensorRows {
		g.sensors[sensorRows[i].UUID] = &sensorRows[i]
	}
	for i := range scheduleRows {
		g.schedules[scheduleRows[i].UUID] = &scheduleRows[i]
	}
	for i := range relayRows {
		g.relays[relayRows[i].UUID] = relay.NewController(relayRows[i], safetySeconds)
	}

	for i := range ruleRows {
		r := ruleRows[i]
		g.ruleSched[r.UUID] = r.ScheduleUUID

		var elements []model.Element
		for _, e := range elementRows {
			if e.RuleUUID == r.UUID {
				elements = append(elements, e)
			}
		}
		var consequences []model.Consequence
		for _, c := range consequenceRows {
			if c.RuleUUID == r.UUID {
				consequences = append(consequences, c)
			}
		}
		var limits []model.RuleLimit
		for _, l := range limitRows {
			if l.RuleUUID == r.UUID {
				limits = append(limits, l)
			}
		}

		recent, err := st.LoadActivationsSince(r.UUID, epoch)
		if err != nil {
			return nil, err
		}

		g.rules[r.UUID] = rule.NewEvaluator(r, elements, consequences, limits, recent)
	}

	return g, nil
}

// closeOrphanedActivations implements invariant (i): every open activation
// left over from an unclean shutdown is terminated using its own prior
// last_update as end_time, before anything else reads the activation table.
func closeOrphanedActivations(st *store.Store) error {
	open, err := st.LoadOpenActivations()
	if err != nil {
		return err
	}

	for i := range open {
		a := open[i]
		end := a.LastUpdate
		a.EndTime = &end
		if err := st.UpdateActivation(&a); err != nil {
			return err
		}
	}
	return nil
}

// Run executes ticks back-to-back, each bounded below by minTickInterval,
// until ctx is cancelled. On return, the shutdown closeout sequence has
// already completed.
func (g *Garden) Run(ctx context.Context, minTickInterval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return g.shutdown(time.Now())
		default:
		}

		start := time.Now()
		if err := g.Tick(start); err != nil {
			if xerr.KindOf(err) == xerr.Fatal {
				return err
			}
			xlog.WithTick(g.tick).WithError(err).Error("tick failed")
		}

		if elapsed := time.Since(start); elapsed < minTickInterval {
			select {
			case <-ctx.Done():
				return g.shutdown(time.Now())
			case <-time.After(minTickInterval - elapsed):
			}
		}
	}
}

// Tick executes one pass of the pipeline: reset_online_flag →
// make_connections → update_slaves → read_active_sensors → check_schedule
// → check_rules → contact_relays. calculate_forced_relays has no separate
// step here: Relay.Tick applies manual override with top precedence
// internally, and check_rules seeds the desired-signal map with a
// default-off entry for every active relay on a connected slave before
// rule consequences set their relays on.
func (g *Garden) Tick(now time.Time) error {
	g.tick++
	log := xlog.WithTick(g.tick)

	wasOnline := make(map[string]bool, len(g.slaves))
	for uuid, sl := range g.slaves {
		wasOnline[uuid] = sl.Connected
		sl.Connected = false
	}

	if err := g.conn.MakeConnections(); err != nil {
		return err
	}

	g.updateSlaves(now, wasOnline)

	readings := g.readActiveSensors()

	scheduleActive := make(map[string]bool, len(g.schedules))
	for uuid, sched := range g.schedules {
		scheduleActive[uuid] = schedule.AppliesNow(sched, now)
	}

	desired := g.checkRules(readings, scheduleActive, now, log)

	g.contactRelays(desired, now, log)

	return nil
}

func (g *Garden) updateSlaves(now time.Time, wasOnline map[string]bool) {
	online := make(map[string]bool)
	for _, uuid := range g.conn.Iterate() {
		online[uuid] = true
	}

	for slaveUUID := range online {
		sl, known := g.slaves[slaveUUID]
		if !known {
			sl = &model.Slave{UUID: slaveUUID}
			g.slaves[slaveUUID] = sl
			if err := g.store.InsertSlave(sl); err != nil {
				xlog.WithSlave(slaveUUID).WithError(err).Warn("failed to persist newly discovered slave")
			}
		}
		sl.Connected = true
		sl.LastSeen = now
	}

	for slaveUUID, sl := range g.slaves {
		if err := g.store.UpdateSlave(sl); err != nil {
			xlog.WithSlave(slaveUUID).WithError(err).Warn("failed to persist slave connected state")
		}

		if sl.Connected && !wasOnline[slaveUUID] {
			g.publisher.Publish(eventbus.SlaveConnected, slaveUUID, now)
		} else if !sl.Connected && wasOnline[slaveUUID] {
			g.publisher.Publish(eventbus.SlaveDisconnected, slaveUUID, now)
		}
	}
}

func (g *Garden) readActiveSensors() map[string]*float64 {
	readings := make(map[string]*float64, len(g.sensors))
	for _, sensor := range g.sensors {
		if !sensor.Active {
			continue
		}
		sl, ok := g.slaves[sensor.SlaveUUID]
		if !ok || !sl.Connected {
			continue
		}
		if v, ok := g.conn.ReadSensor(sensor); ok {
			value := v
			readings[sensor.UUID] = &value
		}
	}
	return readings
}

func (g *Garden) checkRules(readings map[string]*float64, scheduleActive map[string]bool, now time.Time, log *logrus.Entry) map[string]bool {
	desired := make(map[string]bool)

	// Default every active relay on a connected slave off before applying
	// consequences, so a rule that stops passing actually releases the
	// relay instead of leaving it latched on with no signal at all.
	for relayUUID, ctrl := range g.relays {
		if !ctrl.Relay.Active {
			continue
		}
		sl, ok := g.slaves[ctrl.Relay.SlaveUUID]
		if !ok || !sl.Connected {
			continue
		}
		desired[relayUUID] = false
	}

	for ruleUUID, ev := range g.rules {
		wasActive := ev.Active()

		sched := scheduleActive[g.ruleSched[ruleUUID]]
		pass, err := ev.Evaluate(readings, sched, now, g.store)
		if err != nil {
			log.WithField("rule", ruleUUID).WithError(err).Warn("rule activation transition failed, retrying next tick")
			continue
		}

		if pass {
			for _, relayUUID := range ev.ActiveConsequenceRelays() {
				if r, ok := g.relays[relayUUID]; ok && r.Relay.Active {
					desired[relayUUID] = true
				}
			}
		}

		if isActive := ev.Active(); isActive != wasActive {
			if isActive {
				g.publisher.Publish(eventbus.RuleActivated, ruleUUID, now)
			} else {
				g.publisher.Publish(eventbus.RuleDeactivated, ruleUUID, now)
			}
		}
	}

	return desired
}

func (g *Garden) contactRelays(desired map[string]bool, now time.Time, log *logrus.Entry) {
	for relayUUID, ctrl := range g.relays {
		wasOpen := ctrl.ActivationOpen()

		sl := g.slaves[ctrl.Relay.SlaveUUID]
		connected := sl != nil && sl.Connected

		var signal *bool
		if v, ok := desired[relayUUID]; ok {
			signal = &v
		}

		var tx relay.Transmitter
		if connected {
			tx = g.conn
		}

		if err := ctrl.Tick(connected, signal, now, g.store, tx); err != nil {
			log.WithField("relay", relayUUID).WithError(err).Warn("relay activation transition failed, retrying next tick")
			continue
		}

		if isOpen := ctrl.ActivationOpen(); isOpen != wasOpen {
			if isOpen {
				g.publisher.Publish(eventbus.RelayActivated, relayUUID, now)
			} else {
				g.publisher.Publish(eventbus.RelayDeactivated, relayUUID, now)
			}
		}
	}
}

// shutdown implements the tick loop's closeout sequence: terminate every
// serial session, mark all currently-connected slaves disconnected and
// persist, then close every open Relay and Rule Activation.
func (g *Garden) shutdown(now time.Time) error {
	xlog.Logger.Info("shutting down garden")

	g.conn.Despawn()

	for uuid, sl := range g.slaves {
		if !sl.Connected {
			continue
		}
		sl.Connected = false
		if err := g.store.UpdateSlave(sl); err != nil {
			xlog.WithSlave(uuid).WithError(err).Warn("failed to persist slave disconnect on shutdown")
		}
	}

	for uuid, ctrl := range g.relays {
		if err := ctrl.EndActivation(now, g.store); err != nil {
			xlog.WithRelay(uuid).WithError(err).Error("failed to close relay activation on shutdown")
		}
	}

	for ruleUUID, ev := range g.rules {
		if err := ev.Shutdown(now, g.store); err != nil {
			xlog.WithRule(ruleUUID).WithError(err).Error("failed to close rule activation on shutdown")
		}
	}

	return nil
}

// Summary describes the counts the get-garden CLI command prints.
type Summary struct {
	Slaves          int
	ConnectedSlaves int
	Sensors         int
	Relays          int
	Schedules       int
	Rules           int
	OpenActivations int
}

// Describe reports the current in-memory entity counts, without running a
// tick.
func (g *Garden) Describe() Summary {
	s := Summary{
		Slaves:    len(g.slaves),
		Sensors:   len(g.sensors),
		Relays:    len(g.relays),
		Schedules: len(g.schedules),
		Rules:     len(g.rules),
	}
	for _, sl := range g.slaves {
		if sl.Connected {
			s.ConnectedSlaves++
		}
	}
	for _, ctrl := range g.relays {
		if ctrl.ActivationOpen() {
			s.OpenActivations++
		}
	}
	for _, ev := range g.rules {
		if ev.Active() {
			s.OpenActivations++
		}
	}
	return s
}
