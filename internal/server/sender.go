package server

import (
	"bytes"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/observe"
	"github.com/raidtools/partysync/internal/wire"
	"github.com/raidtools/partysync/pkg/logger"
)

var ErrQueueClosed = errors.New("server: outbound queue closed")

type outbound struct {
	pkt   *wire.Packet
	dests []*Session
}

// Sender is the outbound dispatcher: a single consumer that encodes each
// packet once and writes the identical bytes to every destination. A write
// failure disconnects only the failing destination. Flush blocks until every
// queued packet has been written, which the dispatcher uses to make sure a
// forced logout reaches the wire before the session is removed.
type Sender struct {
	queue  chan outbound
	onLost func(*Session)

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	stopped bool

	log *zap.Logger
}

func NewSender(buffer int, onLost func(*Session)) *Sender {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sender{
		queue:  make(chan outbound, buffer),
		onLost: onLost,
		log:    logger.L().Named("sender"),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Run consumes the queue until Stop. Meant for its own goroutine.
func (s *Sender) Run() {
	var buf bytes.Buffer
	for item := range s.queue {
		s.deliver(&buf, item)
		s.mu.Lock()
		s.pending--
		if s.pending == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}
}

func (s *Sender) deliver(buf *bytes.Buffer, item outbound) {
	buf.Reset()
	if err := wire.WritePacket(buf, item.pkt); err != nil {
		s.log.Error("encode outbound packet",
			zap.Stringer("type", item.pkt.Type), zap.Error(err))
		return
	}
	raw := buf.Bytes()
	for _, dest := range item.dests {
		if dest.isClosed() {
			continue
		}
		if err := dest.write(raw); err != nil {
			s.log.Info("write failed, dropping session",
				zap.String("user", dest.UserName()), zap.Error(err))
			s.onLost(dest)
			continue
		}
		if item.pkt.Type == wire.TypeClientStatus {
			dest.stampStatusSent()
		}
		observe.IncPacketOut(item.pkt.Type.String())
	}
	if len(item.dests) > 1 {
		observe.IncBroadcast()
	}
}

// Send queues pkt for the given destinations. No-op without destinations.
func (s *Sender) Send(pkt *wire.Packet, dests ...*Session) error {
	if len(dests) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrQueueClosed
	}
	s.pending++
	s.mu.Unlock()
	s.queue <- outbound{pkt: pkt, dests: dests}
	return nil
}

// Flush blocks until the queue has fully drained. Idempotent and safe from
// multiple goroutines.
func (s *Sender) Flush() {
	s.mu.Lock()
	for s.pending > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Stop refuses new sends and lets Run exit once the queue drains.
func (s *Sender) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.queue)
}
