package server

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/config"
	"github.com/raidtools/partysync/pkg/logger"
)

const updateAcceptTimeout = 30 * time.Second

type updateTarget struct {
	ln   net.Listener
	path string
}

// Updater serves raw file downloads over four auxiliary listeners: the sound
// archive, the trigger snapshot, the client package and the support library.
// A client announces over the main protocol which download it is about to
// fetch; the matching listener then accepts exactly one connection, streams
// the file and closes it.
type Updater struct {
	sounds   updateTarget
	triggers updateTarget
	client   updateTarget
	lib      updateTarget

	log *zap.Logger
}

func NewUpdater(cfg *config.Config) (*Updater, error) {
	u := &Updater{log: logger.L().Named("updater")}

	targets := []struct {
		dst  *updateTarget
		addr string
		file string
	}{
		{&u.sounds, cfg.SoundsAddr, cfg.SoundsFile},
		{&u.triggers, cfg.TriggersAddr, cfg.TriggersFile},
		{&u.client, cfg.ClientAddr, cfg.ClientFile},
		{&u.lib, cfg.LibAddr, cfg.LibFile},
	}
	for _, t := range targets {
		ln, err := net.Listen("tcp", t.addr)
		if err != nil {
			u.Close()
			return nil, err
		}
		*t.dst = updateTarget{ln: ln, path: filepath.Join(cfg.DataDir, t.file)}
	}
	return u, nil
}

func (u *Updater) Close() {
	for _, t := range []updateTarget{u.sounds, u.triggers, u.client, u.lib} {
		if t.ln != nil {
			t.ln.Close()
		}
	}
}

func (u *Updater) ServeSounds()   { go u.serveOne(u.sounds) }
func (u *Updater) ServeTriggers() { go u.serveOne(u.triggers) }
func (u *Updater) ServeClient()   { go u.serveOne(u.client) }

// ServeAll arms every download in sequence, the order clients fetch them in
// during a full update.
func (u *Updater) ServeAll() {
	go func() {
		u.serveOne(u.sounds)
		u.serveOne(u.lib)
		u.serveOne(u.triggers)
		u.serveOne(u.client)
	}()
}

func (u *Updater) serveOne(t updateTarget) {
	if tcp, ok := t.ln.(*net.TCPListener); ok {
		tcp.SetDeadline(time.Now().Add(updateAcceptTimeout))
	}
	conn, err := t.ln.Accept()
	if err != nil {
		u.log.Warn("update download not fetched",
			zap.String("file", t.path), zap.Error(err))
		return
	}
	defer conn.Close()

	f, err := os.Open(t.path)
	if err != nil {
		u.log.Error("open update file", zap.String("file", t.path), zap.Error(err))
		return
	}
	defer f.Close()

	n, err := io.Copy(conn, f)
	if err != nil {
		u.log.Warn("stream update file", zap.String("file", t.path), zap.Error(err))
		return
	}
	u.log.Info("served update file",
		zap.String("file", t.path), zap.Int64("bytes", n))
}
