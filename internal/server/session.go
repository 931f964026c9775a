package server

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raidtools/partysync/internal/rights"
	"github.com/raidtools/partysync/internal/wire"
)

// Session is one accepted connection and the state bound to it. Identity and
// flags are owned by the dispatcher goroutine; the presence monitor and the
// outbound sender touch them through the mutex-guarded accessors, and the two
// timestamps are atomics because the read pump and sender stamp them from
// their own goroutines.
type Session struct {
	id   string
	conn net.Conn
	br   *bufio.Reader

	writeMu sync.Mutex

	lastReceived   atomic.Int64 // unix nano, stamped by the read pump
	lastStatusSent atomic.Int64 // unix nano, stamped by the sender

	mu        sync.Mutex
	user      *rights.User
	authed    bool
	ping      uint16
	afk       bool
	logRead   bool
	linkDead  bool
	dpsSharer bool
	group     byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(conn net.Conn) *Session {
	s := &Session{
		id:     uuid.New().String(),
		conn:   conn,
		br:     bufio.NewReader(conn),
		closed: make(chan struct{}),
	}
	s.lastReceived.Store(time.Now().UnixNano())
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// write sends pre-encoded packet bytes. Serialized so fan-out and direct
// replies cannot interleave on the stream.
func (s *Session) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(b)
	return err
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) touchReceived() { s.lastReceived.Store(time.Now().UnixNano()) }
func (s *Session) sinceReceived() time.Duration {
	return time.Since(time.Unix(0, s.lastReceived.Load()))
}
func (s *Session) stampStatusSent() { s.lastStatusSent.Store(time.Now().UnixNano()) }
func (s *Session) sinceStatusSent() time.Duration {
	return time.Since(time.Unix(0, s.lastStatusSent.Load()))
}

func (s *Session) User() *rights.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ""
	}
	return s.user.Name
}

func (s *Session) Authed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

func (s *Session) bindUser(u *rights.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Session) setAuthed(v bool) {
	s.mu.Lock()
	s.authed = v
	s.mu.Unlock()
}

func (s *Session) setPing(p uint16) {
	s.mu.Lock()
	s.ping = p
	s.mu.Unlock()
}

func (s *Session) setAfk(v bool) {
	s.mu.Lock()
	s.afk = v
	s.mu.Unlock()
}

func (s *Session) setLogRead(v bool) {
	s.mu.Lock()
	s.logRead = v
	s.mu.Unlock()
}

func (s *Session) setLinkDead(v bool) {
	s.mu.Lock()
	s.linkDead = v
	s.mu.Unlock()
}

func (s *Session) setDpsSharer(v bool) {
	s.mu.Lock()
	s.dpsSharer = v
	s.mu.Unlock()
}

func (s *Session) isDpsSharer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dpsSharer
}

func (s *Session) setGroup(g byte) {
	s.mu.Lock()
	s.group = g
	s.mu.Unlock()
}

// statusEntry snapshots the live state for one ClientStatus row.
func (s *Session) statusEntry() wire.StatusEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wire.StatusEntry{
		Ping:     s.ping,
		Afk:      s.afk,
		Admin:    s.user != nil && s.user.IsAdmin(),
		LogRead:  s.logRead,
		LinkDead: s.linkDead,
		Group:    s.group,
	}
}
