package server

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/observe"
	"github.com/raidtools/partysync/internal/wire"
	"github.com/raidtools/partysync/pkg/logger"
)

const (
	hardTimeout = 30 * time.Second
	softTimeout = 10 * time.Second

	// Roster and status sends within one tick are spread over this span.
	statusPacing = 3 * time.Second
)

// Monitor watches session liveness on a short fixed tick. A session silent
// past the hard timeout is reported lost; past the soft timeout it is only
// flagged link-dead. When the roster changed since the last tick the monitor
// rebuilds the snapshot once and pushes it, followed by a status packet, to
// every session in it.
type Monitor struct {
	reg    *Registry
	sender *Sender
	lost   func(*Session)
	tick   time.Duration
	pacing time.Duration

	dirty      atomic.Bool
	lastRoster []*Session

	stop chan struct{}
	done chan struct{}

	log *zap.Logger
}

func NewMonitor(reg *Registry, sender *Sender, lost func(*Session), tick time.Duration) *Monitor {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &Monitor{
		reg:    reg,
		sender: sender,
		lost:   lost,
		tick:   tick,
		pacing: statusPacing,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    logger.L().Named("presence"),
	}
}

// MarkDirty schedules a roster rebuild for the next tick. Any number of
// membership changes between two ticks still cost one rebuild.
func (m *Monitor) MarkDirty() { m.dirty.Store(true) }

func (m *Monitor) Run() {
	defer close(m.done)
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.tickOnce()
		}
	}
}

func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) tickOnce() {
	for _, s := range m.reg.All() {
		idle := s.sinceReceived()
		if idle > hardTimeout {
			m.log.Info("session timed out",
				zap.String("user", s.UserName()), zap.Duration("idle", idle))
			m.lost(s)
			continue
		}
		s.setLinkDead(idle > softTimeout)
	}

	var rosterPkt *wire.Packet
	if m.dirty.CompareAndSwap(true, false) {
		m.lastRoster = m.reg.Roster()
		names := make([]string, len(m.lastRoster))
		for i, s := range m.lastRoster {
			names[i] = s.UserName()
		}
		rosterPkt = wire.NewPacket(&wire.Roster{Names: names})
		observe.IncRosterRebuild()
	}

	if len(m.lastRoster) == 0 {
		return
	}

	entries := make([]wire.StatusEntry, len(m.lastRoster))
	for i, s := range m.lastRoster {
		entries[i] = s.statusEntry()
	}
	statusPkt := wire.NewPacket(&wire.ClientStatus{Entries: entries})

	pace := m.pacing / time.Duration(len(m.lastRoster))
	for _, s := range m.lastRoster {
		if s.isClosed() {
			continue
		}
		if rosterPkt != nil {
			m.sender.Send(rosterPkt, s)
		}
		m.sender.Send(statusPkt, s)
		time.Sleep(pace)
	}
	m.sender.Flush()
}
