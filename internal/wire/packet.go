// Package wire implements the binary packet protocol: one leading type tag
// byte followed by the content variant's fields in a fixed order. There is no
// frame length and no checksum; the stream stays consistent only because every
// variant knows exactly how many bytes it owns.
package wire

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Type is the one-byte packet type tag.
type Type byte

const (
	TypeUndefined Type = iota
	TypePing
	TypeAcknowledge
	TypeLogin
	TypeLogout
	TypeMessage
	TypeRoster
	TypeAddUser
	TypeRemoveUser
	TypeChangePassword
	TypeChangeUserRight
	TypeServerCommand
	TypeClientStatus
	TypeChat
	TypeTriggerDesc
	TypeTriggerEvent
	TypeDpsParse
	TypeGetUpdateSounds
	TypeGetUpdateTriggers
	TypeGetUpdateClient
	TypeGetUpdateAll
	TypeSetUpdateTriggers
	TypeSetUpdateClient

	maxType = TypeSetUpdateClient
)

// Protocol version carried in Login packets.
const ProtocolVersion = 10015

var typeNames = map[Type]string{
	TypeUndefined:         "undefined",
	TypePing:              "ping",
	TypeAcknowledge:       "ack",
	TypeLogin:             "login",
	TypeLogout:            "logout",
	TypeMessage:           "message",
	TypeRoster:            "roster",
	TypeAddUser:           "add_user",
	TypeRemoveUser:        "remove_user",
	TypeChangePassword:    "change_password",
	TypeChangeUserRight:   "change_user_right",
	TypeServerCommand:     "server_cmd",
	TypeClientStatus:      "client_status",
	TypeChat:              "chat",
	TypeTriggerDesc:       "trigger_desc",
	TypeTriggerEvent:      "trigger_event",
	TypeDpsParse:          "dps_parse",
	TypeGetUpdateSounds:   "get_update_sounds",
	TypeGetUpdateTriggers: "get_update_triggers",
	TypeGetUpdateClient:   "get_update_client",
	TypeGetUpdateAll:      "get_update_all",
	TypeSetUpdateTriggers: "set_update_triggers",
	TypeSetUpdateClient:   "set_update_client",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// ErrUnknownType reports a tag outside the closed set. With no frame length
// the remainder of the stream cannot be consumed after such a tag, so both
// read pumps treat this as fatal for the connection.
var ErrUnknownType = errors.New("wire: unknown packet type")

// Content is the closed set of payload variants. The interface methods are
// unexported on purpose: no variant can be added outside this package.
type Content interface {
	contentType() Type
	encode(w io.Writer) error
	decode(r ByteScanner) error
}

// ByteScanner is what decoding needs from the stream. The single-byte reads
// keep the zlib-wrapped trigger container from consuming bytes past its own
// member (see TriggerDesc).
type ByteScanner interface {
	io.Reader
	io.ByteReader
}

// Packet is one protocol message. Time and Resend are bookkeeping stamped by
// the transport, never serialized.
type Packet struct {
	Type    Type
	Content Content
	Time    time.Time
	Resend  int
}

func NewPacket(c Content) *Packet {
	return &Packet{Type: c.contentType(), Content: c}
}

// Bare builds a packet carrying no payload (ping, ack, logout, update requests).
func Bare(t Type) *Packet {
	return &Packet{Type: t}
}

func (p *Packet) String() string {
	if p.Content == nil {
		return fmt.Sprintf("[%s]", p.Type)
	}
	return fmt.Sprintf("[%s %+v]", p.Type, p.Content)
}

// contents maps each payload-carrying tag to its variant constructor. Tags of
// the closed set that carry no payload map to nil.
var contents = map[Type]func() Content{
	TypeLogin:           func() Content { return &Login{} },
	TypeMessage:         func() Content { return &Message{} },
	TypeRoster:          func() Content { return &Roster{} },
	TypeAddUser:         func() Content { return &AddUser{} },
	TypeRemoveUser:      func() Content { return &RemoveUser{} },
	TypeChangePassword:  func() Content { return &ChangePassword{} },
	TypeChangeUserRight: func() Content { return &ChangeUserRight{} },
	TypeServerCommand:   func() Content { return &ServerCommand{} },
	TypeClientStatus:    func() Content { return &ClientStatus{} },
	TypeChat:            func() Content { return &Chat{} },
	TypeTriggerDesc:     func() Content { return &TriggerDesc{} },
	TypeTriggerEvent:    func() Content { return &TriggerEvent{} },
	TypeDpsParse:        func() Content { return &DpsParse{} },
}

// WritePacket encodes p onto w: the tag byte, then the content fields.
// Encoding is deterministic for a given packet.
func WritePacket(w io.Writer, p *Packet) error {
	if _, err := w.Write([]byte{byte(p.Type)}); err != nil {
		return err
	}
	if p.Content == nil {
		return nil
	}
	return p.Content.encode(w)
}

// ReadPacket decodes the next packet from r. An unknown tag yields
// ErrUnknownType; the stream position is then unrecoverable.
func ReadPacket(r ByteScanner) (*Packet, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	t := Type(b)
	if t > maxType {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, b)
	}
	p := &Packet{Type: t}
	mk, ok := contents[t]
	if !ok {
		return p, nil
	}
	c := mk()
	if err := c.decode(r); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", t, err)
	}
	p.Content = c
	return p, nil
}
