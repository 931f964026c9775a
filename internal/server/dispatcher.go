package server

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raidtools/partysync/internal/observe"
	"github.com/raidtools/partysync/internal/rights"
	"github.com/raidtools/partysync/internal/trigger"
	"github.com/raidtools/partysync/internal/wire"
	"github.com/raidtools/partysync/pkg/logger"
)

const chatDedupWindow = 5 * time.Second

type inbound struct {
	sess *Session
	pkt  *wire.Packet
	lost bool // read pump failed or the presence monitor timed the session out
}

type chatSeen struct {
	sender string
	msg    string
	at     time.Time
}

// Dispatcher is the single consumer of the inbound queue. All session
// membership changes, rights and trigger mutations run on its goroutine, so
// none of them need further locking. Read pumps and the presence monitor only
// ever enqueue.
type Dispatcher struct {
	reg      *Registry
	rights   *rights.Store
	triggers *trigger.Store
	throttle *trigger.Throttle
	sender   *Sender
	updater  *Updater

	chatChannel string
	chatHistory []chatSeen

	inbox     chan inbound
	stopMu    sync.RWMutex
	stopped   bool
	markDirty func()
	now       func() time.Time

	log *zap.Logger
}

func NewDispatcher(reg *Registry, rs *rights.Store, ts *trigger.Store,
	sender *Sender, updater *Updater, chatChannel string, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		reg:         reg,
		rights:      rs,
		triggers:    ts,
		throttle:    trigger.NewThrottle(ts),
		sender:      sender,
		updater:     updater,
		chatChannel: chatChannel,
		inbox:       make(chan inbound, buffer),
		markDirty:   func() {},
		now:         time.Now,
		log:         logger.L().Named("dispatch"),
	}
}

// SetDirtyHook installs the presence monitor's roster-changed notification.
// Must be called before Run.
func (d *Dispatcher) SetDirtyHook(fn func()) { d.markDirty = fn }

// Enqueue pushes a decoded packet from a read pump. A packet that races with
// Stop is dropped; the session it came from is being torn down anyway.
func (d *Dispatcher) Enqueue(sess *Session, pkt *wire.Packet) {
	d.enqueue(inbound{sess: sess, pkt: pkt})
}

// EnqueueLost reports a dead transport. Removal and the departure notice run
// on the dispatcher goroutine like every other membership change.
func (d *Dispatcher) EnqueueLost(sess *Session) {
	d.enqueue(inbound{sess: sess, lost: true})
}

func (d *Dispatcher) enqueue(item inbound) {
	d.stopMu.RLock()
	defer d.stopMu.RUnlock()
	if d.stopped {
		return
	}
	d.inbox <- item
}

// Stop ends Run once the inbox drains. Enqueues that already hold the read
// lock land first; later ones are dropped.
func (d *Dispatcher) Stop() {
	d.stopMu.Lock()
	defer d.stopMu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.inbox)
}

func (d *Dispatcher) Run() {
	for item := range d.inbox {
		d.dispatch(item)
	}
}

func (d *Dispatcher) dispatch(item inbound) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch panic", zap.Any("cause", r),
				zap.String("user", item.sess.UserName()))
		}
	}()

	if item.lost {
		d.dropSession(item.sess, "%s lost the connection.", "lost")
		return
	}

	sess, pkt := item.sess, item.pkt
	if !sess.Authed() {
		if pkt.Type == wire.TypeLogin {
			d.handleLogin(sess, pkt.Content.(*wire.Login))
		}
		return
	}

	user := sess.User()
	switch pkt.Type {
	case wire.TypeLogout:
		d.dropSession(sess, "%s disconnected.", "logout")

	case wire.TypeAcknowledge:
		ms := sess.sinceStatusSent().Milliseconds()
		if ms < 0 {
			ms = 0
		} else if ms > 0xffff {
			ms = 0xffff
		}
		sess.setPing(uint16(ms))

	case wire.TypeChat:
		d.handleChat(sess, user, pkt.Content.(*wire.Chat))

	case wire.TypeAddUser:
		if !user.IsAdmin() {
			return
		}
		c := pkt.Content.(*wire.AddUser)
		if err := d.rights.Add(&rights.User{Name: c.Name, AuthID: c.AuthID}); err != nil {
			d.messageTo(sess, "User name already exists.")
		} else {
			d.messageTo(sess, fmt.Sprintf("User %s was added.", c.Name))
		}

	case wire.TypeRemoveUser:
		if !user.IsAdmin() {
			return
		}
		c := pkt.Content.(*wire.RemoveUser)
		if d.rights.Remove(c.Name) {
			d.messageTo(sess, fmt.Sprintf("User %s was removed.", c.Name))
		} else {
			d.messageTo(sess, fmt.Sprintf("User %s is unknown.", c.Name))
		}
		if victim := d.reg.ByName(c.Name); victim != nil {
			d.kick(victim)
		}

	case wire.TypeChangePassword:
		c := pkt.Content.(*wire.ChangePassword)
		if !user.IsAdmin() && !strings.EqualFold(user.Name, c.Name) {
			return
		}
		if target := d.rights.ByName(c.Name); target != nil {
			target.AuthID = c.AuthID
			d.rights.Save()
			d.messageTo(sess, fmt.Sprintf("Password of %s was changed.", c.Name))
		} else {
			d.messageTo(sess, fmt.Sprintf("User %s is unknown.", c.Name))
		}

	case wire.TypeChangeUserRight:
		if !user.IsAdmin() {
			return
		}
		d.handleChangeRight(sess, pkt.Content.(*wire.ChangeUserRight))

	case wire.TypeTriggerDesc:
		if !user.IsAdmin() {
			return
		}
		c := pkt.Content.(*wire.TriggerDesc)
		switch c.Cmd {
		case wire.TriggerCmdAdd:
			d.triggers.Add(c.Rules)
		case wire.TriggerCmdRemove:
			if len(c.Rules) > 0 {
				d.triggers.Remove(c.Rules[0].Title)
			}
		}
		d.broadcastTriggerSet()

	case wire.TypeTriggerEvent:
		c := pkt.Content.(*wire.TriggerEvent)
		c.Sender = user.Name
		if d.throttle.Allow(c.ID, c.Attr) {
			observe.IncTriggerEvent("forwarded")
			d.broadcast(wire.NewPacket(c))
		} else {
			observe.IncTriggerEvent("dropped")
		}

	case wire.TypeDpsParse:
		if sess.isDpsSharer() {
			d.broadcast(pkt)
		}

	case wire.TypeServerCommand:
		d.handleServerCmd(sess, user, pkt.Content.(*wire.ServerCommand))

	case wire.TypeGetUpdateSounds:
		d.updater.ServeSounds()
	case wire.TypeGetUpdateTriggers:
		d.updater.ServeTriggers()
	case wire.TypeGetUpdateClient:
		d.updater.ServeClient()
	case wire.TypeGetUpdateAll:
		d.updater.ServeAll()
	}
}

// handleLogin authenticates a fresh session. An unmatched digest drops the
// connection without any feedback.
func (d *Dispatcher) handleLogin(sess *Session, c *wire.Login) {
	user := d.rights.ByAuthID(c.AuthID)
	if user == nil {
		d.log.Info("login with unknown credentials",
			zap.String("addr", sess.RemoteAddr()))
		d.removeSession(sess)
		return
	}

	if old := d.reg.ByName(user.Name); old != nil {
		// The replaced session must see its logout on the wire before it
		// vanishes from the registry.
		d.sender.Send(wire.Bare(wire.TypeLogout), old)
		d.sender.Flush()
		d.removeSession(old)
		observe.IncKick("replaced")
	}

	sess.bindUser(user)
	d.log.Info("login", zap.String("user", user.Name),
		zap.Uint16("version", c.Version), zap.String("addr", sess.RemoteAddr()))

	if c.Version > wire.ProtocolVersion {
		d.messageTo(sess, "Client version is too new, please update the server.")
		d.sender.Send(wire.Bare(wire.TypeLogout), sess)
		d.sender.Flush()
		d.removeSession(sess)
		return
	}

	sess.setAuthed(true)
	d.sendRosterTo(sess)
	d.markDirty()
	d.broadcastMessage(fmt.Sprintf("%s connected.", user.Name))

	if c.Version < wire.ProtocolVersion {
		d.messageTo(sess, "Client version is outdated, an update will be performed.")
		d.cmdTo(sess, wire.CmdUpdateClient, "", "")
	}
	if user.IsAdmin() {
		d.cmdTo(sess, wire.CmdShowAdminTools, "", "")
	} else {
		d.cmdTo(sess, wire.CmdHideAdminTools, "", "")
	}
	if d.chatChannel != "" {
		d.cmdTo(sess, wire.CmdSetChatChannel, d.chatChannel, "")
	}
	d.sender.Send(wire.NewPacket(&wire.TriggerDesc{
		Cmd:   wire.TriggerCmdAdd,
		Rules: d.triggers.All(),
	}), sess)
}

func (d *Dispatcher) handleChat(sess *Session, user *rights.User, c *wire.Chat) {
	c.Sender = user.Name
	if c.Receiver == wire.ChatToAll {
		d.broadcast(wire.NewPacket(c))
		return
	}
	if d.chatChannel == "" || !strings.EqualFold(c.Receiver, d.chatChannel) {
		return
	}
	now := d.now()
	kept := d.chatHistory[:0]
	dup := false
	for _, seen := range d.chatHistory {
		if now.Sub(seen.at) > chatDedupWindow {
			continue
		}
		kept = append(kept, seen)
		if seen.sender == c.Sender && seen.msg == c.Msg {
			dup = true
		}
	}
	d.chatHistory = kept
	if dup {
		observe.IncChatDedup()
		return
	}
	d.chatHistory = append(d.chatHistory, chatSeen{sender: c.Sender, msg: c.Msg, at: now})
	d.broadcast(wire.NewPacket(c))
}

func (d *Dispatcher) handleChangeRight(sess *Session, c *wire.ChangeUserRight) {
	target := d.rights.ByName(c.Name)
	if target == nil {
		d.messageTo(sess, fmt.Sprintf("User %s is unknown.", c.Name))
		return
	}
	target.Right = c.Right
	d.rights.Save()

	var notice string
	cmd := wire.CmdHideAdminTools
	if c.Right == wire.RightAdmin {
		notice = fmt.Sprintf("Admin rights were granted to %s.", c.Name)
		cmd = wire.CmdShowAdminTools
	} else {
		notice = fmt.Sprintf("Admin rights were revoked from %s.", c.Name)
	}
	d.messageTo(sess, notice)
	if affected := d.reg.ByName(target.Name); affected != nil {
		d.cmdTo(affected, cmd, "", "")
		d.messageTo(affected, notice)
	}
}

func (d *Dispatcher) handleServerCmd(sess *Session, user *rights.User, c *wire.ServerCommand) {
	switch c.Cmd {
	case wire.CmdGoesAfk:
		sess.setAfk(true)
		d.broadcastMessage(fmt.Sprintf("%s goes AFK.", user.Name))

	case wire.CmdComesBack:
		d.broadcastMessage(fmt.Sprintf("%s is back.", user.Name))
		sess.setAfk(false)

	case wire.CmdLogReadActive:
		sess.setLogRead(true)
	case wire.CmdLogReadInactive:
		sess.setLogRead(false)

	case wire.CmdSetDpsSharer:
		if user.IsAdmin() {
			d.setDpsSharer(c.Param1)
		}
	case wire.CmdRemoveDpsSharer:
		if user.IsAdmin() {
			d.removeDpsSharer(c.Param1)
		}

	case wire.CmdSetGroupNumber:
		d.setGroupNumber(sess, user, c.Param1, c.Param2)
	}
}

// setGroupNumber sets the caller's own group, or another session's when the
// caller is an admin and both params are given. Bad numbers are ignored.
func (d *Dispatcher) setGroupNumber(sess *Session, user *rights.User, p1, p2 string) {
	if p1 != "" && p2 == "" {
		if n, err := strconv.Atoi(p1); err == nil && n >= 0 && n <= 0xff {
			sess.setGroup(byte(n))
		}
		return
	}
	if p1 != "" && p2 != "" && user.IsAdmin() {
		target := d.reg.ByName(p1)
		if target == nil {
			return
		}
		if n, err := strconv.Atoi(p2); err == nil && n >= 0 && n <= 0xff {
			target.setGroup(byte(n))
		}
	}
}

// setDpsSharer makes the named session the only DPS parse sharer. The
// previous sharer, if any, is revoked first.
func (d *Dispatcher) setDpsSharer(name string) {
	next := d.reg.ByName(name)
	if next == nil {
		return
	}
	for _, s := range d.reg.All() {
		if s.isDpsSharer() {
			s.setDpsSharer(false)
			d.cmdTo(s, wire.CmdRemoveDpsSharer, "", "")
		}
	}
	next.setDpsSharer(true)
	d.cmdTo(next, wire.CmdSetDpsSharer, "", "")
	d.broadcastMessage(fmt.Sprintf("%s now shares DPS parses.", name))
}

func (d *Dispatcher) removeDpsSharer(name string) {
	s := d.reg.ByName(name)
	if s == nil {
		return
	}
	s.setDpsSharer(false)
	d.cmdTo(s, wire.CmdRemoveDpsSharer, "", "")
	d.broadcastMessage(fmt.Sprintf("%s no longer shares DPS parses.", name))
}

// kick force-disconnects a session whose account was just removed. The logout
// packet is flushed before the session leaves the registry.
func (d *Dispatcher) kick(sess *Session) {
	d.sender.Send(wire.Bare(wire.TypeLogout), sess)
	d.sender.Flush()
	wasAuthed := sess.Authed()
	if !d.removeSession(sess) {
		return
	}
	observe.IncKick("removed")
	if wasAuthed {
		d.broadcastMessage(fmt.Sprintf("%s was kicked.", sess.UserName()))
		d.markDirty()
	}
}

// dropSession removes a departing session and announces it with the given
// notice format when it was authenticated.
func (d *Dispatcher) dropSession(sess *Session, noticeFmt, reason string) {
	wasAuthed := sess.Authed()
	name := sess.UserName()
	if !d.removeSession(sess) {
		return
	}
	if reason != "logout" {
		observe.IncKick(reason)
	}
	if wasAuthed {
		d.broadcastMessage(fmt.Sprintf(noticeFmt, name))
		d.markDirty()
	}
}

// removeSession takes a session out of the registry and closes its transport.
// Returns false when it was already gone.
func (d *Dispatcher) removeSession(sess *Session) bool {
	if !d.reg.Remove(sess) {
		return false
	}
	observe.AddOnline(-1)
	return true
}

func (d *Dispatcher) broadcast(pkt *wire.Packet) {
	d.sender.Send(pkt, d.reg.All()...)
}

func (d *Dispatcher) broadcastMessage(msg string) {
	d.broadcast(wire.NewPacket(&wire.Message{Msg: msg}))
}

func (d *Dispatcher) broadcastTriggerSet() {
	d.broadcast(wire.NewPacket(&wire.TriggerDesc{
		Cmd:   wire.TriggerCmdAdd,
		Rules: d.triggers.All(),
	}))
}

func (d *Dispatcher) messageTo(sess *Session, msg string) {
	d.sender.Send(wire.NewPacket(&wire.Message{Msg: msg}), sess)
}

func (d *Dispatcher) cmdTo(sess *Session, cmd byte, p1, p2 string) {
	d.sender.Send(wire.NewPacket(&wire.ServerCommand{Cmd: cmd, Param1: p1, Param2: p2}), sess)
}

func (d *Dispatcher) sendRosterTo(sess *Session) {
	roster := d.reg.Roster()
	names := make([]string, len(roster))
	for i, s := range roster {
		names[i] = s.UserName()
	}
	d.sender.Send(wire.NewPacket(&wire.Roster{Names: names}), sess)
}
