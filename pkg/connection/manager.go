// Package connection owns the serial-port↔slave-UUID bijection and the
// framed request/response protocol used to talk to slave boards. It is the
// only package that touches the physical USB-serial devices; everything
// else references a slave only by UUID.
package connection

import (
	"bufio"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/greenloop-systems/gardend/pkg/model"
	"github.com/greenloop-systems/gardend/pkg/xerr"
	"github.com/greenloop-systems/gardend/pkg/xlog"
)

// session is one open serial connection to an identified slave board.
type session struct {
	port   serial.Port
	reader *bufio.Reader
}

func (s *session) send(id int, fields ...string) error {
	_, err := s.port.Write(encodeFrame(id, fields...))
	return err
}

func (s *session) receive() (frame, error) {
	return readFrame(s.reader)
}

func (s *session) close() error {
	return s.port.Close()
}

// Manager maintains the bijection between currently-attached serial ports
// and identified slave UUIDs, per spec §4.2. All methods are safe to call
// from a single goroutine only; the tick loop is the sole caller.
type Manager struct {
	mu sync.Mutex

	portPattern *regexp.Regexp
	baudRate    int
	readTimeout time.Duration

	connections   map[string]*session // uuid -> session
	portToUUID    map[string]string   // port -> uuid
}

// NewManager builds a Manager that discovers ports matching portPattern
// (e.g. "/dev/ttyACM[0-9]+") at the given baud rate, bounding every
// synchronous read with readTimeout.
func NewManager(portPattern string, baudRate int, readTimeout time.Duration) (*Manager, error) {
	re, err := regexp.Compile(portPattern)
	if err != nil {
		return nil, xerr.New(xerr.Fatal, "connection.NewManager", portPattern, err)
	}
	return &Manager{
		portPattern: re,
		baudRate:    baudRate,
		readTimeout: readTimeout,
		connections: make(map[string]*session),
		portToUUID:  make(map[string]string),
	}, nil
}

// MakeConnections runs the discovery algorithm once: enumerate candidate
// ports and, for each, establish/verify/terminate per spec §4.2.
func (m *Manager) MakeConnections() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ports, err := serial.GetPortsList()
	if err != nil {
		return xerr.New(xerr.Fatal, "connection.MakeConnections", "", err)
	}

	for _, port := range ports {
		if !m.portPattern.MatchString(port) {
			continue
		}

		uuid, assigned := m.portToUUID[port]

		if !assigned {
			m.establish(port)
			continue
		}

		if !m.isConnectedLocked(uuid) {
			m.terminateLocked(port)
			continue
		}

		if !m.doesUUIDMatchLocked(uuid) {
			m.terminateLocked(port)
			m.establish(port)
			continue
		}
	}

	return nil
}

// Iterate returns the UUIDs of every slave currently believed online, as a
// finite snapshot of the connection map rather than a live generator.
func (m *Manager) Iterate() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var online []string
	for uuid := range m.connections {
		if m.isConnectedLocked(uuid) {
			online = append(online, uuid)
		}
	}
	return online
}

// Despawn closes every open session. Safe to call more than once.
func (m *Manager) Despawn() {
	m.mu.Lock()
	defer m.mu.Unlock()

	xlog.Logger.Info("shutting down all connections")
	for port := range m.portToUUID {
		m.terminateLocked(port)
	}
}

func (m *Manager) establish(port string) {
	log := xlog.WithPort(port)
	log.Info("attempting to establish connection")

	mode := &serial.Mode{BaudRate: m.baudRate}
	p, err := serial.Open(port, mode)
	if err != nil {
		log.WithError(err).Warn("failed to open port")
		return
	}
	if err := p.SetReadTimeout(m.readTimeout); err != nil {
		log.WithError(err).Warn("failed to set read timeout")
		_ = p.Close()
		return
	}

	sess := &session{port: p, reader: bufio.NewReader(p)}

	if err := sess.send(cmdUUID); err != nil {
		log.WithError(err).Warn("failed to send uuid request")
		_ = sess.close()
		return
	}

	resp, err := sess.receive()
	if err != nil {
		log.WithError(err).Warn("fatal serial exception on connection")
		_ = sess.close()
		return
	}

	if resp.id != cmdUUIDResponse || len(resp.fields) != 1 {
		log.WithField("frame", resp.id).Warn("unexpected response to uuid request")
		_ = sess.close()
		return
	}

	uuid := resp.fields[0]
	if len(uuid) != 36 {
		log.WithField("uuid", uuid).Warn("invalid uuid length received")
		_ = sess.close()
		return
	}

	m.portToUUID[port] = uuid
	m.connections[uuid] = sess
	xlog.WithSlave(uuid).WithField("port", port).Info("connection established")
}

func (m *Manager) terminateLocked(port string) {
	log := xlog.WithPort(port)
	uuid, ok := m.portToUUID[port]
	if !ok || uuid == "" {
		log.Debug("no uuid relation found, nothing to terminate")
		return
	}

	sess, ok := m.connections[uuid]
	if !ok || sess == nil {
		m.portToUUID[port] = ""
		log.Debug("no connection instance found")
		return
	}

	if err := sess.close(); err != nil {
		log.WithError(err).Warn("failure to fully close, dropping connection anyway")
	}

	m.portToUUID[port] = ""
	m.connections[uuid] = nil
	xlog.WithSlave(uuid).Info("connection terminated")
}

func (m *Manager) isConnectedLocked(uuid string) bool {
	sess, ok := m.connections[uuid]
	return ok && sess != nil
}

func (m *Manager) doesUUIDMatchLocked(uuid string) bool {
	sess := m.connections[uuid]
	if sess == nil {
		return false
	}

	if err := sess.send(cmdUUID); err != nil {
		return false
	}
	resp, err := sess.receive()
	if err != nil {
		return false
	}
	if resp.id != cmdUUIDResponse || len(resp.fields) != 1 {
		return false
	}
	return resp.fields[0] == uuid
}

// ReadSensor issues a synchronous sensor read. Any I/O fault or protocol
// mismatch is reported as "no reading" (ok=false), never as a state
// mutation — per spec §4.2 this never tears down the session by itself.
func (m *Manager) ReadSensor(sensor *model.Sensor) (value float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, connected := m.connections[sensor.SlaveUUID], m.isConnectedLocked(sensor.SlaveUUID)
	if !connected || sess == nil {
		return 0, false
	}

	log := xlog.WithSlave(sensor.SlaveUUID)
	if err := sess.send(cmdSensor, sensor.PinType(), fmt.Sprintf("%d", sensor.Pin), sensor.Driver, sensor.MeasurementType); err != nil {
		log.WithError(err).Debug("sensor read exception")
		return 0, false
	}

	resp, err := sess.receive()
	if err != nil {
		log.WithError(err).Debug("sensor read exception")
		return 0, false
	}

	if resp.id != cmdSensorResponse || len(resp.fields) != 2 {
		log.WithField("error_fields", resp.fields).Debug("sensor error response")
		return 0, false
	}

	v, err := parseFloatField(resp.fields[1])
	if err != nil {
		log.WithError(err).Debug("malformed sensor reading")
		return 0, false
	}
	return v, true
}

// SetRelay issues a synchronous relay command and returns the board-
// confirmed state, which the caller should treat as authoritative over
// whatever state was requested.
func (m *Manager) SetRelay(relay *model.Relay, requestedState bool) (confirmed bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, connected := m.connections[relay.SlaveUUID], m.isConnectedLocked(relay.SlaveUUID)
	if !connected || sess == nil {
		return false, false
	}

	stateInt := 0
	if requestedState {
		stateInt = 1
	}

	log := xlog.WithRelay(relay.UUID)
	if err := sess.send(cmdRelay, fmt.Sprintf("%d", relay.Pin), fmt.Sprintf("%d", stateInt)); err != nil {
		log.WithError(err).Debug("relay command exception")
		return false, false
	}

	resp, err := sess.receive()
	if err != nil {
		log.WithError(err).Debug("relay command exception")
		return false, false
	}

	if resp.id != cmdRelayResponse || len(resp.fields) != 2 {
		return false, false
	}

	confirmedInt, err := parseIntField(resp.fields[1])
	if err != nil {
		return false, false
	}
	return confirmedInt != 0, true
}
