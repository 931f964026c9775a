package server

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/raidtools/partysync/internal/rights"
	"github.com/raidtools/partysync/internal/trigger"
	"github.com/raidtools/partysync/internal/wire"
)

// pipeSession returns a server-side session backed by a pipe, plus the client
// end. Packets written by the server are decoded into the returned channel.
func pipeSession(t *testing.T) (*Session, <-chan *wire.Packet) {
	t.Helper()
	srv, cli := net.Pipe()
	t.Cleanup(func() { srv.Close(); cli.Close() })

	out := make(chan *wire.Packet, 64)
	go func() {
		br := bufio.NewReader(cli)
		for {
			pkt, err := wire.ReadPacket(br)
			if err != nil {
				close(out)
				return
			}
			out <- pkt
		}
	}()
	return newSession(srv), out
}

func newTestDispatcher(t *testing.T, chatChannel string) (*Dispatcher, *Registry, *rights.Store) {
	t.Helper()
	dir := t.TempDir()
	rs := rights.Load(filepath.Join(dir, "users.bin"), false)
	ts := trigger.Load(filepath.Join(dir, "trigger.bin"))
	reg := NewRegistry()
	sender := NewSender(16, func(*Session) {})
	go sender.Run()
	t.Cleanup(sender.Stop)
	return NewDispatcher(reg, rs, ts, sender, nil, chatChannel, 16), reg, rs
}

// authedSession registers a session already past the login handshake.
func authedSession(t *testing.T, reg *Registry, u *rights.User) (*Session, <-chan *wire.Packet) {
	t.Helper()
	sess, out := pipeSession(t)
	sess.bindUser(u)
	sess.setAuthed(true)
	reg.Add(sess)
	return sess, out
}

// collect drains packets of the given type arriving within the window.
func collect(ch <-chan *wire.Packet, typ wire.Type, window time.Duration) []*wire.Packet {
	var got []*wire.Packet
	deadline := time.After(window)
	for {
		select {
		case pkt, ok := <-ch:
			if !ok {
				return got
			}
			if pkt.Type == typ {
				got = append(got, pkt)
			}
		case <-deadline:
			return got
		}
	}
}

func waitFor(t *testing.T, ch <-chan *wire.Packet, typ wire.Type) *wire.Packet {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case pkt, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed while waiting for %v", typ)
			}
			if pkt.Type == typ {
				return pkt
			}
		case <-deadline:
			t.Fatalf("no %v packet arrived", typ)
		}
	}
}

func TestRosterIsSortedAndAuthenticatedOnly(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"cora", "abe", "bert"} {
		sess, _ := pipeSession(t)
		sess.bindUser(&rights.User{Name: name})
		sess.setAuthed(true)
		reg.Add(sess)
	}
	pending, _ := pipeSession(t)
	reg.Add(pending)

	roster := reg.Roster()
	if len(roster) != 3 {
		t.Fatalf("roster size = %d, want 3", len(roster))
	}
	want := []string{"abe", "bert", "cora"}
	for i, s := range roster {
		if s.UserName() != want[i] {
			t.Fatalf("roster[%d] = %q, want %q", i, s.UserName(), want[i])
		}
	}
}

func TestUnauthenticatedSessionCannotMutate(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "")
	sess, _ := pipeSession(t)
	reg.Add(sess)

	before := rs.Len()
	d.dispatch(inbound{sess: sess, pkt: wire.NewPacket(&wire.AddUser{
		Name:   "intruder",
		AuthID: rights.ComputeAuthID("intruder", "pw"),
	})})
	if rs.Len() != before {
		t.Fatalf("user table mutated by unauthenticated session")
	}
}

func TestLoginReplacesExistingSession(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "")
	admin := rs.ByName(rights.DefaultAdminName)

	old, oldOut := authedSession(t, reg, admin)

	fresh, freshOut := pipeSession(t)
	reg.Add(fresh)
	d.dispatch(inbound{sess: fresh, pkt: wire.NewPacket(&wire.Login{
		AuthID:  admin.AuthID,
		Version: wire.ProtocolVersion,
	})})

	// The replaced session sees its logout on the wire; by the time dispatch
	// returned it is out of the registry.
	waitFor(t, oldOut, wire.TypeLogout)
	if reg.ByName(admin.Name) != fresh {
		t.Fatalf("registry does not hold the fresh session")
	}
	if !old.isClosed() {
		t.Fatalf("replaced session still open")
	}
	if !fresh.Authed() {
		t.Fatalf("fresh session not authenticated")
	}
	waitFor(t, freshOut, wire.TypeRoster)
	waitFor(t, freshOut, wire.TypeTriggerDesc)
}

func TestLoginUnknownDigestDropsSilently(t *testing.T) {
	d, reg, _ := newTestDispatcher(t, "")
	sess, out := pipeSession(t)
	reg.Add(sess)

	d.dispatch(inbound{sess: sess, pkt: wire.NewPacket(&wire.Login{
		AuthID:  rights.ComputeAuthID("nobody", "nothing"),
		Version: wire.ProtocolVersion,
	})})
	if reg.Len() != 0 {
		t.Fatalf("session still registered after failed login")
	}
	if got := collect(out, wire.TypeMessage, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("failed login produced feedback: %v", got[0])
	}
}

func TestOutdatedClientGetsUpdateCommand(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "")
	admin := rs.ByName(rights.DefaultAdminName)
	sess, out := pipeSession(t)
	reg.Add(sess)

	d.dispatch(inbound{sess: sess, pkt: wire.NewPacket(&wire.Login{
		AuthID:  admin.AuthID,
		Version: wire.ProtocolVersion - 1,
	})})
	if !sess.Authed() {
		t.Fatalf("outdated client was rejected")
	}
	for {
		pkt := waitFor(t, out, wire.TypeServerCommand)
		if pkt.Content.(*wire.ServerCommand).Cmd == wire.CmdUpdateClient {
			return
		}
	}
}

func TestChatDedupWindow(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "raid")
	admin := rs.ByName(rights.DefaultAdminName)
	sess, out := authedSession(t, reg, admin)

	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	say := func() {
		d.dispatch(inbound{sess: sess, pkt: wire.NewPacket(&wire.Chat{
			Receiver: "raid", Msg: "incoming adds",
		})})
	}
	say()
	say()
	if got := collect(out, wire.TypeChat, 100*time.Millisecond); len(got) != 1 {
		t.Fatalf("chat within window broadcast %d times, want 1", len(got))
	}

	now = now.Add(6 * time.Second)
	say()
	if got := collect(out, wire.TypeChat, 100*time.Millisecond); len(got) != 1 {
		t.Fatalf("chat after window broadcast %d times, want 1", len(got))
	}
}

func TestRemoveUserKicksActiveSession(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "")
	admin := rs.ByName(rights.DefaultAdminName)
	if err := rs.Add(&rights.User{Name: "mara", AuthID: rights.ComputeAuthID("mara", "pw")}); err != nil {
		t.Fatal(err)
	}

	adminSess, _ := authedSession(t, reg, admin)
	victim, victimOut := authedSession(t, reg, rs.ByName("mara"))

	d.dispatch(inbound{sess: adminSess, pkt: wire.NewPacket(&wire.RemoveUser{Name: "mara"})})

	waitFor(t, victimOut, wire.TypeLogout)
	if !victim.isClosed() {
		t.Fatalf("kicked session still open")
	}
	if rs.ByName("mara") != nil {
		t.Fatalf("removed user still in table")
	}
}

func TestDpsParseRequiresSharerFlag(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "")
	admin := rs.ByName(rights.DefaultAdminName)
	sess, out := authedSession(t, reg, admin)

	parse := wire.NewPacket(&wire.DpsParse{Title: "pull 4", Dps: "812"})
	d.dispatch(inbound{sess: sess, pkt: parse})
	if got := collect(out, wire.TypeDpsParse, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("parse forwarded without sharer flag")
	}

	sess.setDpsSharer(true)
	d.dispatch(inbound{sess: sess, pkt: parse})
	waitFor(t, out, wire.TypeDpsParse)
}

func TestMonitorRebuildsRosterOncePerDirtyTick(t *testing.T) {
	reg := NewRegistry()
	sender := NewSender(16, func(*Session) {})
	go sender.Run()
	defer sender.Stop()

	_, out := authedSession(t, reg, &rights.User{Name: "abe"})

	m := NewMonitor(reg, sender, func(*Session) {}, time.Hour)
	m.pacing = time.Millisecond

	// Two membership changes before the tick still cost one rebuild.
	m.MarkDirty()
	m.MarkDirty()
	m.tickOnce()
	if got := collect(out, wire.TypeRoster, 100*time.Millisecond); len(got) != 1 {
		t.Fatalf("dirty tick sent %d roster packets, want 1", len(got))
	}

	m.tickOnce()
	if got := collect(out, wire.TypeRoster, 100*time.Millisecond); len(got) != 0 {
		t.Fatalf("clean tick sent %d roster packets, want 0", len(got))
	}
	if got := collect(out, wire.TypeClientStatus, 100*time.Millisecond); len(got) != 0 {
		t.Fatalf("status packets left unread: %d", len(got))
	}
}

func TestMonitorReportsHardTimeout(t *testing.T) {
	reg := NewRegistry()
	sender := NewSender(16, func(*Session) {})
	go sender.Run()
	defer sender.Stop()

	sess, _ := authedSession(t, reg, &rights.User{Name: "abe"})
	sess.lastReceived.Store(time.Now().Add(-time.Minute).UnixNano())

	var reported *Session
	m := NewMonitor(reg, sender, func(s *Session) { reported = s }, time.Hour)
	m.pacing = time.Millisecond
	m.tickOnce()

	if reported != sess {
		t.Fatalf("timed-out session not reported")
	}
}

func TestAckUpdatesPing(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "")
	sess, _ := authedSession(t, reg, rs.ByName(rights.DefaultAdminName))
	sess.stampStatusSent()

	d.dispatch(inbound{sess: sess, pkt: wire.Bare(wire.TypeAcknowledge)})
	if e := sess.statusEntry(); e.Ping == 0xffff {
		t.Fatalf("ping not derived from status send time")
	}
}

func TestEnqueueAfterStopIsDropped(t *testing.T) {
	d, reg, rs := newTestDispatcher(t, "")
	go d.Run()
	d.Stop()

	// A read pump can decode one last packet while shutdown is tearing the
	// sessions down; the late enqueue must be a no-op, not a send on a
	// closed channel.
	sess, _ := authedSession(t, reg, rs.ByName(rights.DefaultAdminName))
	d.Enqueue(sess, wire.Bare(wire.TypePing))
	d.EnqueueLost(sess)
	d.Stop()
}
