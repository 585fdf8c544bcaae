// Package store is gardend's relational persistence layer: a thin wrapper
// over database/sql backed by modernc.org/sqlite, providing load-all,
// insert, update-by-UUID, and the few scoped queries the rule and relay
// evaluators need (open activations, activations since T).
//
// Entities are loaded and written through a small codec each model type
// implements (Columns/Values/Scan) rather than through reflection over a
// dynamic map — see pkg/model.
package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/greenloop-systems/gardend/pkg/model"
	"github.com/greenloop-systems/gardend/pkg/xerr"
)

// Store wraps the underlying database connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the pragmas gardend needs: WAL so the control loop's writes
// don't block a concurrent HTTP reader, a busy timeout so a momentary lock
// contention retries instead of failing outright, and foreign keys on.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerr.New(xerr.Fatal, "store.Open", path, err)
	}

	if err := db.Ping(); err != nil {
		return nil, xerr.New(xerr.Fatal, "store.Open", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, xerr.New(xerr.Fatal, "store.Open", path, fmt.Errorf("pragma %q: %w", pragma, err))
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is the logical schema from the entity set gardend persists.
// The "client" table (operator credentials) is deliberately absent: the
// control core never reads or writes it.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS slave (
		uuid       TEXT PRIMARY KEY,
		nickname   TEXT NOT NULL DEFAULT '',
		connected  INTEGER NOT NULL DEFAULT 0,
		last_seen  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sensor (
		uuid             TEXT PRIMARY KEY,
		slave_uuid       TEXT NOT NULL REFERENCES slave(uuid),
		active           INTEGER NOT NULL DEFAULT 1,
		digital          INTEGER NOT NULL DEFAULT 1,
		pin              INTEGER NOT NULL,
		driver           TEXT NOT NULL DEFAULT '',
		measurement_type TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS sensor_slave_uuid ON sensor(slave_uuid)`,
	`CREATE TABLE IF NOT EXISTS relay (
		uuid       TEXT PRIMARY KEY,
		slave_uuid TEXT NOT NULL REFERENCES slave(uuid),
		active     INTEGER NOT NULL DEFAULT 1,
		manual     INTEGER NOT NULL DEFAULT 0,
		pin        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS relay_slave_uuid ON relay(slave_uuid)`,
	`CREATE TABLE IF NOT EXISTS schedule (
		uuid           TEXT PRIMARY KEY,
		active         INTEGER NOT NULL DEFAULT 1,
		schedule_start INTEGER NOT NULL,
		schedule_end   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rule (
		uuid          TEXT PRIMARY KEY,
		schedule_uuid TEXT NOT NULL REFERENCES schedule(uuid),
		logic_type    TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS element (
		uuid         TEXT PRIMARY KEY,
		rule_uuid    TEXT NOT NULL REFERENCES rule(uuid),
		sensor_uuid  TEXT NOT NULL REFERENCES sensor(uuid),
		min_value    REAL,
		max_value    REAL,
		target_value REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS element_rule_uuid ON element(rule_uuid)`,
	`CREATE TABLE IF NOT EXISTS consequence (
		uuid       TEXT PRIMARY KEY,
		rule_uuid  TEXT NOT NULL REFERENCES rule(uuid),
		relay_uuid TEXT NOT NULL REFERENCES relay(uuid)
	)`,
	`CREATE INDEX IF NOT EXISTS consequence_rule_uuid ON consequence(rule_uuid)`,
	`CREATE TABLE IF NOT EXISTS rule_limit (
		uuid           TEXT PRIMARY KEY,
		rule_uuid      TEXT NOT NULL REFERENCES rule(uuid),
		every_seconds  INTEGER NOT NULL,
		period_seconds INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS rule_limit_rule_uuid ON rule_limit(rule_uuid)`,
	`CREATE TABLE IF NOT EXISTS activation (
		uuid        TEXT PRIMARY KEY,
		relay_uuid  TEXT REFERENCES relay(uuid),
		rule_uuid   TEXT REFERENCES rule(uuid),
		start_time  TEXT NOT NULL,
		end_time    TEXT,
		last_update TEXT NOT NULL,
		CHECK ((relay_uuid IS NULL) != (rule_uuid IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS activation_relay_uuid ON activation(relay_uuid)`,
	`CREATE INDEX IF NOT EXISTS activation_rule_uuid ON activation(rule_uuid)`,
	`CREATE INDEX IF NOT EXISTS activation_end_time ON activation(end_time)`,
	`CREATE TABLE IF NOT EXISTS measurement (
		uuid        TEXT PRIMARY KEY,
		sensor_uuid TEXT NOT NULL REFERENCES sensor(uuid),
		timestamp   TEXT NOT NULL,
		value       REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS measurement_sensor_uuid ON measurement(sensor_uuid)`,
}

// Migrate applies every pending migration. It is idempotent.
func (s *Store) Migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return xerr.New(xerr.Fatal, "store.Migrate", "", fmt.Errorf("migration failed: %w\nSQL: %s", err, m))
		}
	}
	return nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// scrub defends against a column/table name slipping in from anywhere
// other than a compile-time constant: reject anything that isn't a plain
// alphanumeric-and-underscore identifier.
func scrub(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %q", name)
	}
	return name, nil
}

// codec is what every model type implements: a column list and positional
// values for writes.
type codec interface {
	Columns() []string
	Values() []any
}

// scanner is what every model type implements for reads.
type scanner interface {
	Scan(*sql.Rows) error
}

// recordPtr constrains the generic helpers below to pointer-to-model types
// that satisfy both codec and scanner — the pattern Go generics use to
// express "T has methods only its pointer receiver provides."
type recordPtr[T any] interface {
	*T
	codec
	scanner
}

// LoadAll loads every row of table into a slice of T, in the order sqlite
// returns them (by uuid, ascending, since uuid is the primary key).
func LoadAll[T any, PT recordPtr[T]](s *Store, table string) ([]T, error) {
	tbl, err := scrub(table)
	if err != nil {
		return nil, xerr.New(xerr.Fatal, "store.LoadAll", table, err)
	}

	rows, err := s.db.Query(fmt.Sprintf("SELECT * FROM %s ORDER BY uuid", tbl))
	if err != nil {
		return nil, xerr.New(xerr.Persistence, "store.LoadAll", table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var item T
		p := PT(&item)
		if err := p.Scan(rows); err != nil {
			return nil, xerr.New(xerr.Persistence, "store.LoadAll", table, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, xerr.New(xerr.Persistence, "store.LoadAll", table, err)
	}
	return out, nil
}

// Insert writes a new row to table using rec's Columns()/Values().
func Insert[T any, PT recordPtr[T]](s *Store, table string, rec PT) error {
	tbl, err := scrub(table)
	if err != nil {
		return xerr.New(xerr.Fatal, "store.Insert", table, err)
	}

	cols := rec.Columns()
	scrubbed := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		sc, err := scrub(c)
		if err != nil {
			return xerr.New(xerr.Fatal, "store.Insert", table, err)
		}
		scrubbed[i] = sc
		placeholders[i] = "?"
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, strings.Join(scrubbed, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.Exec(q, rec.Values()...); err != nil {
		return xerr.New(xerr.Persistence, "store.Insert", table, err)
	}
	return nil
}

// UpdateByUUID overwrites every column of the row whose uuid matches rec's
// first column value (by convention, uuid is always column 0).
func UpdateByUUID[T any, PT recordPtr[T]](s *Store, table string, rec PT) error {
	tbl, err := scrub(table)
	if err != nil {
		return xerr.New(xerr.Fatal, "store.UpdateByUUID", table, err)
	}

	cols := rec.Columns()
	vals := rec.Values()
	if len(cols) == 0 || cols[0] != "uuid" {
		return xerr.New(xerr.Fatal, "store.UpdateByUUID", table, fmt.Errorf("first column must be uuid"))
	}

	var sets []string
	for _, c := range cols[1:] {
		sc, err := scrub(c)
		if err != nil {
			return xerr.New(xerr.Fatal, "store.UpdateByUUID", table, err)
		}
		sets = append(sets, sc+" = ?")
	}

	q := fmt.Sprintf("UPDATE %s SET %s WHERE uuid = ?", tbl, strings.Join(sets, ", "))
	args := append(append([]any{}, vals[1:]...), vals[0])
	if _, err := s.db.Exec(q, args...); err != nil {
		return xerr.New(xerr.Persistence, "store.UpdateByUUID", table, err)
	}
	return nil
}

// --- Entity-specific load/save wrappers -----------------------------------

func (s *Store) LoadSlaves() ([]model.Slave, error) { return LoadAll[model.Slave, *model.Slave](s, "slave") }
func (s *Store) InsertSlave(sl *model.Slave) error  { return Insert(s, "slave", sl) }
func (s *Store) UpdateSlave(sl *model.Slave) error  { return UpdateByUUID(s, "slave", sl) }

func (s *Store) LoadSensors() ([]model.Sensor, error) { return LoadAll[model.Sensor, *model.Sensor](s, "sensor") }
func (s *Store) InsertSensor(sn *model.Sensor) error  { return Insert(s, "sensor", sn) }
func (s *Store) UpdateSensor(sn *model.Sensor) error  { return UpdateByUUID(s, "sensor", sn) }

func (s *Store) LoadRelays() ([]model.Relay, error) { return LoadAll[model.Relay, *model.Relay](s, "relay") }
func (s *Store) InsertRelay(r *model.Relay) error   { return Insert(s, "relay", r) }
func (s *Store) UpdateRelay(r *model.Relay) error   { return UpdateByUUID(s, "relay", r) }

func (s *Store) LoadSchedules() ([]model.Schedule, error) {
	return LoadAll[model.Schedule, *model.Schedule](s, "schedule")
}
func (s *Store) InsertSchedule(sc *model.Schedule) error { return Insert(s, "schedule", sc) }
func (s *Store) UpdateSchedule(sc *model.Schedule) error { return UpdateByUUID(s, "schedule", sc) }

func (s *Store) LoadRules() ([]model.Rule, error) { return LoadAll[model.Rule, *model.Rule](s, "rule") }
func (s *Store) InsertRule(r *model.Rule) error   { return Insert(s, "rule", r) }
func (s *Store) UpdateRule(r *model.Rule) error   { return UpdateByUUID(s, "rule", r) }

func (s *Store) LoadElements() ([]model.Element, error) { return LoadAll[model.Element, *model.Element](s, "element") }
func (s *Store) InsertElement(e *model.Element) error   { return Insert(s, "element", e) }

func (s *Store) LoadConsequences() ([]model.Consequence, error) {
	return LoadAll[model.Consequence, *model.Consequence](s, "consequence")
}
func (s *Store) InsertConsequence(c *model.Consequence) error { return Insert(s, "consequence", c) }

func (s *Store) LoadRuleLimits() ([]model.RuleLimit, error) {
	return LoadAll[model.RuleLimit, *model.RuleLimit](s, "rule_limit")
}
func (s *Store) InsertRuleLimit(l *model.RuleLimit) error { return Insert(s, "rule_limit", l) }

func (s *Store) LoadActivations() ([]model.Activation, error) {
	return LoadAll[model.Activation, *model.Activation](s, "activation")
}
func (s *Store) InsertActivation(a *model.Activation) error { return Insert(s, "activation", a) }
func (s *Store) UpdateActivation(a *model.Activation) error { return UpdateByUUID(s, "activation", a) }

func (s *Store) InsertMeasurement(m *model.Measurement) error { return Insert(s, "measurement", m) }

// LoadOpenActivations returns every activation row with end_time IS NULL —
// used at startup to find and close orphaned relay/rule activations left
// open by an unclean shutdown.
func (s *Store) LoadOpenActivations() ([]model.Activation, error) {
	rows, err := s.db.Query(`SELECT * FROM activation WHERE end_time IS NULL ORDER BY uuid`)
	if err != nil {
		return nil, xerr.New(xerr.Persistence, "store.LoadOpenActivations", "", err)
	}
	defer rows.Close()

	var out []model.Activation
	for rows.Next() {
		var a model.Activation
		if err := a.Scan(rows); err != nil {
			return nil, xerr.New(xerr.Persistence, "store.LoadOpenActivations", "", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadActivationsSince returns every activation for ruleUUID that is
// either still open or ended at or after since — the window RuleLimit
// needs to compute trailing-window overlap.
func (s *Store) LoadActivationsSince(ruleUUID, since string) ([]model.Activation, error) {
	rows, err := s.db.Query(
		`SELECT * FROM activation WHERE rule_uuid = ? AND (end_time IS NULL OR end_time >= ?) ORDER BY uuid`,
		ruleUUID, since,
	)
	if err != nil {
		return nil, xerr.New(xerr.Persistence, "store.LoadActivationsSince", ruleUUID, err)
	}
	defer rows.Close()

	var out []model.Activation
	for rows.Next() {
		var a model.Activation
		if err := a.Scan(rows); err != nil {
			return nil, xerr.New(xerr.Persistence, "store.LoadActivationsSince", ruleUUID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
