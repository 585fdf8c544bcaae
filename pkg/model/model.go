// Package model defines the typed, persisted entity records gardend loads
// into memory at startup: Slave, Sensor, Relay, Schedule, Rule, Element,
// Consequence, RuleLimit, Activation, and Measurement. Each type implements
// a small row codec (Columns/Values/Scan) so pkg/store can load, insert and
// update it generically instead of reflecting over a dynamic map, the way
// the original dictionary-based model did.
//
// Operator credential rows (the "client" table) are not modeled here: the
// control core never reads or writes them.
package model

import (
	"database/sql"
	"fmt"
	"time"
)

// Slave represents one microcontroller board identified by a firmware-
// reported UUID.
type Slave struct {
	UUID      string
	Nickname  string
	Connected bool
	LastSeen  time.Time
}

func (s *Slave) Columns() []string {
	return []string{"uuid", "nickname", "connected", "last_seen"}
}

func (s *Slave) Values() []any {
	return []any{s.UUID, s.Nickname, s.Connected, s.LastSeen.Format(time.RFC3339)}
}

func (s *Slave) Scan(rows *sql.Rows) error {
	var lastSeen string
	if err := rows.Scan(&s.UUID, &s.Nickname, &s.Connected, &lastSeen); err != nil {
		return err
	}
	t, err := parseTimestamp(lastSeen)
	if err != nil {
		return fmt.Errorf("slave %s: last_seen: %w", s.UUID, err)
	}
	s.LastSeen = t
	return nil
}

// Sensor is a logical probe addressable on a slave board.
type Sensor struct {
	UUID            string
	SlaveUUID       string
	Active          bool
	Digital         bool
	Pin             int
	Driver          string
	MeasurementType string
}

func (s *Sensor) Columns() []string {
	return []string{"uuid", "slave_uuid", "active", "digital", "pin", "driver", "measurement_type"}
}

func (s *Sensor) Values() []any {
	return []any{s.UUID, s.SlaveUUID, s.Active, s.Digital, s.Pin, s.Driver, s.MeasurementType}
}

func (s *Sensor) Scan(rows *sql.Rows) error {
	return rows.Scan(&s.UUID, &s.SlaveUUID, &s.Active, &s.Digital, &s.Pin, &s.Driver, &s.MeasurementType)
}

// PinType returns "digital" or "analog", matching the wire vocabulary
// ConnectionManager sends to the board.
func (s *Sensor) PinType() string {
	if s.Digital {
		return "digital"
	}
	return "analog"
}

// Relay is the persisted configuration of one relay output on a slave.
// Runtime-only fields (current_state, forced, last_toggle, current
// activation) are not part of the persisted record; pkg/relay tracks those
// alongside a Relay value.
type Relay struct {
	UUID      string
	SlaveUUID string
	Active    bool
	Manual    bool
	Pin       int
}

func (r *Relay) Columns() []string {
	return []string{"uuid", "slave_uuid", "active", "manual", "pin"}
}

func (r *Relay) Values() []any {
	return []any{r.UUID, r.SlaveUUID, r.Active, r.Manual, r.Pin}
}

func (r *Relay) Scan(rows *sql.Rows) error {
	return rows.Scan(&r.UUID, &r.SlaveUUID, &r.Active, &r.Manual, &r.Pin)
}

// Schedule is a daily time-of-day window. SecondOfDay values are in
// [0, 86400); the window wraps midnight when End < Start.
type Schedule struct {
	UUID    string
	Active  bool
	Start   int
	End     int
}

func (s *Schedule) Columns() []string {
	return []string{"uuid", "active", "schedule_start", "schedule_end"}
}

func (s *Schedule) Values() []any {
	return []any{s.UUID, s.Active, s.Start, s.End}
}

func (s *Schedule) Scan(rows *sql.Rows) error {
	return rows.Scan(&s.UUID, &s.Active, &s.Start, &s.End)
}

// LogicType is the Boolean combinator a Rule applies across its Elements.
type LogicType string

const (
	LogicAnd     LogicType = "and"
	LogicOr      LogicType = "or"
	LogicUnknown LogicType = ""
)

// Rule is the persisted configuration of one rule. Its child Elements,
// Consequences and RuleLimits are loaded separately and filtered by
// RuleUUID; Rule itself holds no evaluation state (that lives in
// pkg/rule.Evaluator).
type Rule struct {
	UUID         string
	ScheduleUUID string
	LogicType    LogicType
}

func (r *Rule) Columns() []string {
	return []string{"uuid", "schedule_uuid", "logic_type"}
}

func (r *Rule) Values() []any {
	return []any{r.UUID, r.ScheduleUUID, string(r.LogicType)}
}

func (r *Rule) Scan(rows *sql.Rows) error {
	var logicType string
	if err := rows.Scan(&r.UUID, &r.ScheduleUUID, &logicType); err != nil {
		return err
	}
	r.LogicType = LogicType(logicType)
	return nil
}

// Element is a per-sensor threshold clause with hysteresis. Exactly one of
// MinValue/MaxValue is expected to be set; TargetValue is the release point.
type Element struct {
	UUID        string
	RuleUUID    string
	SensorUUID  string
	MinValue    *float64
	MaxValue    *float64
	TargetValue float64
}

func (e *Element) Columns() []string {
	return []string{"uuid", "rule_uuid", "sensor_uuid", "min_value", "max_value", "target_value"}
}

func (e *Element) Values() []any {
	return []any{e.UUID, e.RuleUUID, e.SensorUUID, nullableFloat(e.MinValue), nullableFloat(e.MaxValue), e.TargetValue}
}

func (e *Element) Scan(rows *sql.Rows) error {
	var minValue, maxValue sql.NullFloat64
	if err := rows.Scan(&e.UUID, &e.RuleUUID, &e.SensorUUID, &minValue, &maxValue, &e.TargetValue); err != nil {
		return err
	}
	e.MinValue = fromNullFloat(minValue)
	e.MaxValue = fromNullFloat(maxValue)
	return nil
}

// Consequence ties an active Rule to a Relay it should request on.
type Consequence struct {
	UUID      string
	RuleUUID  string
	RelayUUID string
}

func (c *Consequence) Columns() []string {
	return []string{"uuid", "rule_uuid", "relay_uuid"}
}

func (c *Consequence) Values() []any {
	return []any{c.UUID, c.RuleUUID, c.RelayUUID}
}

func (c *Consequence) Scan(rows *sql.Rows) error {
	return rows.Scan(&c.UUID, &c.RuleUUID, &c.RelayUUID)
}

// RuleLimit forbids its Rule from holding active for more than Period
// seconds within any trailing Every seconds.
type RuleLimit struct {
	UUID     string
	RuleUUID string
	Every    int
	Period   int
}

func (l *RuleLimit) Columns() []string {
	return []string{"uuid", "rule_uuid", "every_seconds", "period_seconds"}
}

func (l *RuleLimit) Values() []any {
	return []any{l.UUID, l.RuleUUID, l.Every, l.Period}
}

func (l *RuleLimit) Scan(rows *sql.Rows) error {
	return rows.Scan(&l.UUID, &l.RuleUUID, &l.Every, &l.Period)
}

// OwnerKind distinguishes which entity an Activation belongs to.
type OwnerKind int

const (
	OwnerRelay OwnerKind = iota
	OwnerRule
)

// ActivationOwner is a tagged variant over the two possible Activation
// owners, replacing the relay_uuid-XOR-rule_uuid nullable-column pair with
// a single value that cannot represent both-set or neither-set.
type ActivationOwner struct {
	Kind OwnerKind
	UUID string
}

func RelayOwner(uuid string) ActivationOwner { return ActivationOwner{Kind: OwnerRelay, UUID: uuid} }
func RuleOwner(uuid string) ActivationOwner  { return ActivationOwner{Kind: OwnerRule, UUID: uuid} }

// Activation is a persisted interval of "this relay was driven" or "this
// rule was active". EndTime is nil while the interval is open.
type Activation struct {
	UUID       string
	Owner      ActivationOwner
	StartTime  time.Time
	EndTime    *time.Time
	LastUpdate time.Time
}

// Open reports whether this activation has not yet been closed.
func (a *Activation) Open() bool { return a.EndTime == nil }

func (a *Activation) Columns() []string {
	return []string{"uuid", "relay_uuid", "rule_uuid", "start_time", "end_time", "last_update"}
}

func (a *Activation) Values() []any {
	var relayUUID, ruleUUID any
	switch a.Owner.Kind {
	case OwnerRelay:
		relayUUID = a.Owner.UUID
	case OwnerRule:
		ruleUUID = a.Owner.UUID
	}
	return []any{
		a.UUID,
		relayUUID,
		ruleUUID,
		a.StartTime.Format(time.RFC3339),
		nullableTimestamp(a.EndTime),
		a.LastUpdate.Format(time.RFC3339),
	}
}

func (a *Activation) Scan(rows *sql.Rows) error {
	var relayUUID, ruleUUID sql.NullString
	var startTime, lastUpdate string
	var endTime sql.NullString

	if err := rows.Scan(&a.UUID, &relayUUID, &ruleUUID, &startTime, &endTime, &lastUpdate); err != nil {
		return err
	}

	switch {
	case relayUUID.Valid:
		a.Owner = RelayOwner(relayUUID.String)
	case ruleUUID.Valid:
		a.Owner = RuleOwner(ruleUUID.String)
	}

	start, err := parseTimestamp(startTime)
	if err != nil {
		return fmt.Errorf("activation %s: start_time: %w", a.UUID, err)
	}
	a.StartTime = start

	update, err := parseTimestamp(lastUpdate)
	if err != nil {
		return fmt.Errorf("activation %s: last_update: %w", a.UUID, err)
	}
	a.LastUpdate = update

	if endTime.Valid {
		end, err := parseTimestamp(endTime.String)
		if err != nil {
			return fmt.Errorf("activation %s: end_time: %w", a.UUID, err)
		}
		a.EndTime = &end
	}

	return nil
}

// EffectiveEnd returns EndTime, or now if the activation is still open —
// the convention rule.limitExceeded relies on.
func (a *Activation) EffectiveEnd(now time.Time) time.Time {
	if a.EndTime != nil {
		return *a.EndTime
	}
	return now
}

// Measurement is an optional, lossy sample of a Sensor reading. The tick
// loop does not write these; a future sampler may opt in via
// Store.InsertMeasurement.
type Measurement struct {
	UUID       string
	SensorUUID string
	Timestamp  time.Time
	Value      float64
}

func (m *Measurement) Columns() []string {
	return []string{"uuid", "sensor_uuid", "timestamp", "value"}
}

func (m *Measurement) Values() []any {
	return []any{m.UUID, m.SensorUUID, m.Timestamp.Format(time.RFC3339), m.Value}
}

func (m *Measurement) Scan(rows *sql.Rows) error {
	var timestamp string
	if err := rows.Scan(&m.UUID, &m.SensorUUID, &timestamp, &m.Value); err != nil {
		return err
	}
	t, err := parseTimestamp(timestamp)
	if err != nil {
		return fmt.Errorf("measurement %s: timestamp: %w", m.UUID, err)
	}
	m.Timestamp = t
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func nullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func fromNullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
