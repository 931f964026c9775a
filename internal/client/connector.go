package client

import (
	"bufio"
	"bytes"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/rights"
	"github.com/raidtools/partysync/internal/wire"
	"github.com/raidtools/partysync/pkg/logger"
)

// State is the connector's connection phase.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingLoginAck
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingLoginAck:
		return "awaiting_login_ack"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Timings groups every timer the connector arms. Zero values fall back to the
// protocol defaults; tests shrink them.
type Timings struct {
	LoginTimeout      time.Duration // waiting for the first server packet
	LivenessPeriod    time.Duration // how often inbound silence is checked
	LivenessThreshold time.Duration // silence treated as a dead link
	ReconnectDelay    time.Duration // first reconnect attempt
	ReconnectPeriod   time.Duration // attempts after the first
}

func (t *Timings) fill() {
	if t.LoginTimeout <= 0 {
		t.LoginTimeout = 3 * time.Second
	}
	if t.LivenessPeriod <= 0 {
		t.LivenessPeriod = 5 * time.Second
	}
	if t.LivenessThreshold <= 0 {
		t.LivenessThreshold = 30 * time.Second
	}
	if t.ReconnectDelay <= 0 {
		t.ReconnectDelay = time.Second
	}
	if t.ReconnectPeriod <= 0 {
		t.ReconnectPeriod = 10 * time.Second
	}
}

// Connector is the client side of the protocol: it owns one connection, the
// login handshake and the automatic reconnect loop.
//
// Every state transition happens under one mutex and is stamped with a
// generation counter. Timer callbacks and the read pump carry the generation
// they were started under; a callback whose generation is stale finds the
// world has moved on and does nothing. That makes cancel idempotent and
// stray timer fires harmless.
type Connector struct {
	timings Timings
	events  Events
	log     *zap.Logger

	mu           sync.Mutex
	state        State
	gen          uint64
	conn         net.Conn
	addr         string
	authID       wire.AuthID
	reconnecting bool
	lastReceived time.Time

	loginTimer     *time.Timer
	reconnectTimer *time.Timer
	livenessTimer  *time.Timer
}

func NewConnector(events Events, timings Timings) *Connector {
	timings.fill()
	if events == nil {
		events = NopEvents{}
	}
	return &Connector{
		timings: timings,
		events:  events,
		state:   StateDisconnected,
		log:     logger.L().Named("connector"),
	}
}

// State reports the current connection phase.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Login starts a fresh session. The credential digest is cached so reconnect
// attempts can replay it. The dial runs in the background; the outcome
// arrives through the Events callbacks.
func (c *Connector) Login(host string, port int, user, password string) {
	c.mu.Lock()
	gen := c.bump()
	c.closeConnLocked()
	c.addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.authID = rights.ComputeAuthID(user, password)
	c.reconnecting = false
	c.state = StateConnecting
	c.mu.Unlock()

	go c.attempt(gen)
}

// Logout ends the session deliberately: no reconnect follows.
func (c *Connector) Logout() {
	c.mu.Lock()
	c.bump()
	if c.conn != nil {
		c.writeLocked(wire.Bare(wire.TypeLogout))
	}
	c.closeConnLocked()
	wasIdle := c.state == StateDisconnected
	c.state = StateDisconnected
	c.reconnecting = false
	c.mu.Unlock()

	if !wasIdle {
		c.events.Disconnected()
	}
}

// Close releases the connector. Equivalent to Logout.
func (c *Connector) Close() { c.Logout() }

// bump invalidates every outstanding timer and pump. Caller holds mu.
func (c *Connector) bump() uint64 {
	c.gen++
	stop := func(t *time.Timer) {
		if t != nil {
			t.Stop()
		}
	}
	stop(c.loginTimer)
	stop(c.reconnectTimer)
	stop(c.livenessTimer)
	c.loginTimer, c.reconnectTimer, c.livenessTimer = nil, nil, nil
	return c.gen
}

func (c *Connector) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// attempt dials and sends the login packet. Used for both the initial login
// and every reconnect try.
func (c *Connector) attempt(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	addr := c.addr
	c.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, c.timings.LoginTimeout)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Info("dial failed", zap.String("addr", addr), zap.Error(err))
		c.failAttemptLocked(gen)
		return
	}

	c.conn = conn
	c.state = StateAwaitingLoginAck
	if err := c.writeLocked(wire.NewPacket(&wire.Login{
		AuthID:  c.authID,
		Version: wire.ProtocolVersion,
	})); err != nil {
		c.closeConnLocked()
		c.failAttemptLocked(gen)
		return
	}

	c.loginTimer = time.AfterFunc(c.timings.LoginTimeout, func() { c.onLoginTimeout(gen) })
	go c.readPump(gen, conn)
	c.mu.Unlock()
}

// failAttemptLocked resolves a failed dial or handshake. Initial login gives
// up; a reconnect attempt schedules the next try. Releases mu.
func (c *Connector) failAttemptLocked(gen uint64) {
	if c.reconnecting {
		c.state = StateConnecting
		c.reconnectTimer = time.AfterFunc(c.timings.ReconnectPeriod, func() { c.onReconnectTick(gen) })
		c.mu.Unlock()
		c.events.TryingToReconnect()
		return
	}
	c.bump()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.events.LoginFailed()
}

func (c *Connector) onLoginTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateAwaitingLoginAck {
		c.mu.Unlock()
		return
	}
	c.closeConnLocked()
	c.failAttemptLocked(gen)
}

func (c *Connector) onReconnectTick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.attempt(gen)
}

func (c *Connector) onLivenessTick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	if time.Since(c.lastReceived) > c.timings.LivenessThreshold {
		c.log.Info("server silent past threshold")
		c.lostLocked()
		return
	}
	c.livenessTimer = time.AfterFunc(c.timings.LivenessPeriod, func() { c.onLivenessTick(gen) })
	c.mu.Unlock()
}

// readPump decodes server packets until the connection dies.
func (c *Connector) readPump(gen uint64, conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		pkt, err := wire.ReadPacket(br)
		if err != nil {
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			c.lostLocked()
			return
		}
		c.onPacket(gen, pkt)
	}
}

// lostLocked handles a dead transport: notify, then enter the reconnect
// cycle with the cached credentials. Releases mu.
func (c *Connector) lostLocked() {
	// A transport that dies while the first handshake is still pending is a
	// failed login, not a lost session: the server drops unmatched
	// credentials without a reply, and retrying the same digest would loop
	// forever.
	if c.state == StateAwaitingLoginAck && !c.reconnecting {
		c.bump()
		c.closeConnLocked()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.events.LoginFailed()
		return
	}

	gen := c.bump()
	c.closeConnLocked()
	wasConnected := c.state == StateConnected
	c.state = StateConnecting
	c.reconnecting = true
	delay := c.timings.ReconnectDelay
	c.reconnectTimer = time.AfterFunc(delay, func() { c.onReconnectTick(gen) })
	c.mu.Unlock()

	if wasConnected {
		c.events.ConnectionLost()
	}
	c.events.TryingToReconnect()
}

func (c *Connector) onPacket(gen uint64, pkt *wire.Packet) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastReceived = time.Now()

	established := false
	if c.state == StateAwaitingLoginAck {
		c.state = StateConnected
		c.reconnecting = false
		established = true
		if c.loginTimer != nil {
			c.loginTimer.Stop()
			c.loginTimer = nil
		}
		c.livenessTimer = time.AfterFunc(c.timings.LivenessPeriod, func() { c.onLivenessTick(gen) })
	}

	// The server measures latency from its status send to this reply.
	if pkt.Type == wire.TypeClientStatus {
		c.writeLocked(wire.Bare(wire.TypeAcknowledge))
	}

	// A server-initiated logout means another session took over; do not
	// reconnect against it.
	loggedOut := pkt.Type == wire.TypeLogout
	if loggedOut {
		c.bump()
		c.closeConnLocked()
		c.state = StateDisconnected
		c.reconnecting = false
	}
	c.mu.Unlock()

	if established {
		c.events.ConnectionEstablished()
	}
	c.events.PacketReceived(pkt)
	if loggedOut {
		c.events.Disconnected()
	}
}

// writeLocked encodes and writes one packet. Caller holds mu.
func (c *Connector) writeLocked(pkt *wire.Packet) error {
	if c.conn == nil {
		return net.ErrClosed
	}
	var buf bytes.Buffer
	if err := wire.WritePacket(&buf, pkt); err != nil {
		return err
	}
	_, err := c.conn.Write(buf.Bytes())
	return err
}

// Send transmits one packet on the live connection.
func (c *Connector) Send(pkt *wire.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected && c.state != StateAwaitingLoginAck {
		return net.ErrClosed
	}
	return c.writeLocked(pkt)
}

func (c *Connector) SendChat(receiver, msg string) error {
	return c.Send(wire.NewPacket(&wire.Chat{Receiver: receiver, Msg: msg}))
}

func (c *Connector) SendAddUser(name, password string) error {
	return c.Send(wire.NewPacket(&wire.AddUser{
		Name:   name,
		AuthID: rights.ComputeAuthID(name, password),
	}))
}

func (c *Connector) SendRemoveUser(name string) error {
	return c.Send(wire.NewPacket(&wire.RemoveUser{Name: name}))
}

func (c *Connector) SendChangePassword(name, password string) error {
	return c.Send(wire.NewPacket(&wire.ChangePassword{
		Name:   name,
		AuthID: rights.ComputeAuthID(name, password),
	}))
}

func (c *Connector) SendChangeUserRight(name string, right byte) error {
	return c.Send(wire.NewPacket(&wire.ChangeUserRight{Name: name, Right: right}))
}

func (c *Connector) SendTriggerEvent(id uint16, attr string) error {
	return c.Send(wire.NewPacket(&wire.TriggerEvent{ID: id, Attr: attr}))
}

func (c *Connector) SendServerCmd(cmd byte, param1, param2 string) error {
	return c.Send(wire.NewPacket(&wire.ServerCommand{Cmd: cmd, Param1: param1, Param2: param2}))
}

func (c *Connector) SendDpsParse(parse *wire.DpsParse) error {
	return c.Send(wire.NewPacket(parse))
}

// RequestUpdate asks the server to arm one of the raw file downloads. The
// caller then fetches it from the matching auxiliary port.
func (c *Connector) RequestUpdate(t wire.Type) error {
	switch t {
	case wire.TypeGetUpdateSounds, wire.TypeGetUpdateTriggers,
		wire.TypeGetUpdateClient, wire.TypeGetUpdateAll:
		return c.Send(wire.Bare(t))
	default:
		return wire.ErrUnknownType
	}
}
