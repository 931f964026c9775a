package server

import (
	"errors"
	"net"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/config"
	"github.com/raidtools/partysync/internal/observe"
	"github.com/raidtools/partysync/internal/rights"
	"github.com/raidtools/partysync/internal/trigger"
	"github.com/raidtools/partysync/internal/wire"
	"github.com/raidtools/partysync/pkg/logger"
)

const (
	usersFile    = "users.bin"
	triggersFile = "trigger.bin"
)

// Server owns the full backend: the protocol listener, the session registry,
// the inbound dispatcher, the outbound sender, the presence monitor and the
// update listeners.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	reg        *Registry
	rights     *rights.Store
	triggers   *trigger.Store
	sender     *Sender
	dispatcher *Dispatcher
	monitor    *Monitor
	updater    *Updater

	ln       net.Listener
	stopOnce sync.Once
	stopped  chan struct{}
}

func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		log:      logger.L().Named("server"),
		reg:      NewRegistry(),
		rights:   rights.Load(filepath.Join(cfg.DataDir, usersFile), cfg.DefaultAdmin),
		triggers: trigger.Load(filepath.Join(cfg.DataDir, triggersFile)),
		stopped:  make(chan struct{}),
	}

	updater, err := NewUpdater(cfg)
	if err != nil {
		return nil, err
	}
	s.updater = updater

	s.sender = NewSender(cfg.OutBuffer, func(dead *Session) {
		// The dispatcher may be blocked in Flush while this fires; never
		// let the sender wait on the inbound queue.
		go s.dispatcher.EnqueueLost(dead)
	})
	s.dispatcher = NewDispatcher(s.reg, s.rights, s.triggers,
		s.sender, s.updater, cfg.ChatChannel, cfg.InBuffer)
	s.monitor = NewMonitor(s.reg, s.sender, s.dispatcher.EnqueueLost, cfg.PresenceTick)
	s.dispatcher.SetDirtyHook(s.monitor.MarkDirty)
	return s, nil
}

// ListenAndServe binds the protocol port and blocks in the accept loop until
// Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("listening", zap.String("addr", s.cfg.Addr))

	go observe.Serve(s.cfg.MetricsAddr)
	go s.sender.Run()
	go s.dispatcher.Run()
	go s.monitor.Run()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopped:
				return nil
			default:
			}
			s.log.Warn("accept", zap.Error(err))
			continue
		}
		s.startSession(conn)
	}
}

func (s *Server) startSession(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	sess := newSession(conn)
	s.reg.Add(sess)
	observe.AddOnline(1)
	s.log.Info("connection accepted",
		zap.String("id", sess.ID()), zap.String("addr", sess.RemoteAddr()))
	go s.readPump(sess)
}

// readPump decodes packets off one session and feeds the dispatcher. Any
// read or decode error ends the session; without a frame length an unknown
// tag leaves the stream unreadable, so it is treated the same way.
func (s *Server) readPump(sess *Session) {
	for {
		pkt, err := wire.ReadPacket(sess.br)
		if err != nil {
			if !sess.isClosed() {
				if errors.Is(err, wire.ErrUnknownType) {
					s.log.Warn("undecodable packet, dropping session",
						zap.String("user", sess.UserName()), zap.Error(err))
				}
				s.dispatcher.EnqueueLost(sess)
			}
			return
		}
		sess.touchReceived()
		observe.IncPacketIn(pkt.Type.String())
		s.dispatcher.Enqueue(sess, pkt)
		if pkt.Type == wire.TypeLogout {
			return
		}
	}
}

// Shutdown stops the listeners and the worker goroutines. Safe to call more
// than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		if s.ln != nil {
			s.ln.Close()
		}
		s.monitor.Stop()
		// Closing the transports first winds the read pumps down; a pump
		// that decodes one last packet past this point enqueues into the
		// stopped dispatcher, which drops it.
		for _, sess := range s.reg.All() {
			s.reg.Remove(sess)
		}
		s.dispatcher.Stop()
		s.sender.Stop()
		s.updater.Close()
		s.log.Info("shutdown complete")
	})
}
