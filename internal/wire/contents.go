package wire

import "io"

// AuthID is the opaque 16-byte credential digest carried by Login, AddUser
// and ChangePassword.
type AuthID [16]byte

// Login carries the credential digest and the client's protocol version.
type Login struct {
	AuthID  AuthID
	Version uint16
}

func (*Login) contentType() Type { return TypeLogin }

func (c *Login) encode(w io.Writer) error {
	if _, err := w.Write(c.AuthID[:]); err != nil {
		return err
	}
	return writeUint16(w, c.Version)
}

func (c *Login) decode(r ByteScanner) error {
	if _, err := io.ReadFull(r, c.AuthID[:]); err != nil {
		return err
	}
	v, err := readUint16(r)
	if err != nil {
		return err
	}
	c.Version = v
	return nil
}

// Message is a plain server notice shown to the user.
type Message struct {
	Msg string
}

func (*Message) contentType() Type { return TypeMessage }

func (c *Message) encode(w io.Writer) error { return writeString(w, c.Msg) }

func (c *Message) decode(r ByteScanner) error {
	s, err := readString(r)
	c.Msg = s
	return err
}

// Roster lists the authenticated usernames, sorted by the server.
type Roster struct {
	Names []string
}

func (*Roster) contentType() Type { return TypeRoster }

func (c *Roster) encode(w io.Writer) error {
	if err := writeByte(w, byte(len(c.Names))); err != nil {
		return err
	}
	for _, name := range c.Names {
		if err := writeString(w, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Roster) decode(r ByteScanner) error {
	n, err := r.ReadByte()
	if err != nil {
		return err
	}
	c.Names = make([]string, n)
	for i := range c.Names {
		if c.Names[i], err = readString(r); err != nil {
			return err
		}
	}
	return nil
}

// AddUser registers a new user (admin only).
type AddUser struct {
	Name   string
	AuthID AuthID
}

func (*AddUser) contentType() Type { return TypeAddUser }

func (c *AddUser) encode(w io.Writer) error {
	if err := writeString(w, c.Name); err != nil {
		return err
	}
	_, err := w.Write(c.AuthID[:])
	return err
}

func (c *AddUser) decode(r ByteScanner) error {
	s, err := readString(r)
	if err != nil {
		return err
	}
	c.Name = s
	_, err = io.ReadFull(r, c.AuthID[:])
	return err
}

// RemoveUser deletes a user (admin only).
type RemoveUser struct {
	Name string
}

func (*RemoveUser) contentType() Type { return TypeRemoveUser }

func (c *RemoveUser) encode(w io.Writer) error { return writeString(w, c.Name) }

func (c *RemoveUser) decode(r ByteScanner) error {
	s, err := readString(r)
	c.Name = s
	return err
}

// ChangePassword replaces a user's digest. Same layout as AddUser.
type ChangePassword struct {
	Name   string
	AuthID AuthID
}

func (*ChangePassword) contentType() Type { return TypeChangePassword }

func (c *ChangePassword) encode(w io.Writer) error {
	if err := writeString(w, c.Name); err != nil {
		return err
	}
	_, err := w.Write(c.AuthID[:])
	return err
}

func (c *ChangePassword) decode(r ByteScanner) error {
	s, err := readString(r)
	if err != nil {
		return err
	}
	c.Name = s
	_, err = io.ReadFull(r, c.AuthID[:])
	return err
}

// User right values carried by ChangeUserRight.
const (
	RightNone  byte = 0
	RightAdmin byte = 1
)

// ChangeUserRight grants or revokes the admin role (admin only).
type ChangeUserRight struct {
	Right byte
	Name  string
}

func (*ChangeUserRight) contentType() Type { return TypeChangeUserRight }

func (c *ChangeUserRight) encode(w io.Writer) error {
	if err := writeByte(w, c.Right); err != nil {
		return err
	}
	return writeString(w, c.Name)
}

func (c *ChangeUserRight) decode(r ByteScanner) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	c.Right = b
	c.Name, err = readString(r)
	return err
}

// ServerCommand sub-codes.
const (
	CmdNone            byte = 0
	CmdShowAdminTools  byte = 1
	CmdHideAdminTools  byte = 2
	CmdClientLoggedIn  byte = 3
	CmdClientLoggedOut byte = 4
	CmdGoesAfk         byte = 5
	CmdComesBack       byte = 6
	CmdLogReadActive   byte = 7
	CmdLogReadInactive byte = 8
	CmdUpdateClient    byte = 9
	CmdSetDpsSharer    byte = 10
	CmdRemoveDpsSharer byte = 11
	CmdSetChatChannel  byte = 12
	CmdSetGroupNumber  byte = 13
)

// ServerCommand is a small control message in both directions: one sub-code
// and two free-form parameters whose meaning depends on the code.
type ServerCommand struct {
	Cmd    byte
	Param1 string
	Param2 string
}

func (*ServerCommand) contentType() Type { return TypeServerCommand }

func (c *ServerCommand) encode(w io.Writer) error {
	if err := writeByte(w, c.Cmd); err != nil {
		return err
	}
	if err := writeString(w, c.Param1); err != nil {
		return err
	}
	return writeString(w, c.Param2)
}

func (c *ServerCommand) decode(r ByteScanner) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	c.Cmd = b
	if c.Param1, err = readString(r); err != nil {
		return err
	}
	c.Param2, err = readString(r)
	return err
}

// Status bitmask bits inside ClientStatus entries.
const (
	statusAfk      = 1
	statusAdmin    = 2
	statusLogRead  = 4
	statusLinkDead = 8
)

// StatusEntry is one roster member's live state as broadcast by the presence
// monitor. Entry order matches the roster order of the same tick.
type StatusEntry struct {
	Ping     uint16
	Afk      bool
	Admin    bool
	LogRead  bool
	LinkDead bool
	Group    byte
}

// ClientStatus carries one StatusEntry per roster member.
type ClientStatus struct {
	Entries []StatusEntry
}

func (*ClientStatus) contentType() Type { return TypeClientStatus }

func (c *ClientStatus) encode(w io.Writer) error {
	if err := writeByte(w, byte(len(c.Entries))); err != nil {
		return err
	}
	for _, e := range c.Entries {
		if err := writeUint16(w, e.Ping); err != nil {
			return err
		}
		var mask byte
		if e.Afk {
			mask |= statusAfk
		}
		if e.Admin {
			mask |= statusAdmin
		}
		if e.LogRead {
			mask |= statusLogRead
		}
		if e.LinkDead {
			mask |= statusLinkDead
		}
		if err := writeByte(w, mask); err != nil {
			return err
		}
		if err := writeByte(w, e.Group); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClientStatus) decode(r ByteScanner) error {
	n, err := r.ReadByte()
	if err != nil {
		return err
	}
	c.Entries = make([]StatusEntry, n)
	for i := range c.Entries {
		e := &c.Entries[i]
		if e.Ping, err = readUint16(r); err != nil {
			return err
		}
		mask, err := r.ReadByte()
		if err != nil {
			return err
		}
		e.Afk = mask&statusAfk != 0
		e.Admin = mask&statusAdmin != 0
		e.LogRead = mask&statusLogRead != 0
		e.LinkDead = mask&statusLinkDead != 0
		if e.Group, err = r.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}

// ChatToAll is the receiver value addressing every connected client.
const ChatToAll = ""

// Chat is a relayed chat line. Receiver "" broadcasts to all; a configured
// channel name goes through the server-side dedup; anything else is dropped.
type Chat struct {
	Sender   string
	Receiver string
	Msg      string
}

func (*Chat) contentType() Type { return TypeChat }

func (c *Chat) encode(w io.Writer) error {
	if err := writeString(w, c.Sender); err != nil {
		return err
	}
	if err := writeString(w, c.Receiver); err != nil {
		return err
	}
	return writeString(w, c.Msg)
}

func (c *Chat) decode(r ByteScanner) error {
	var err error
	if c.Sender, err = readString(r); err != nil {
		return err
	}
	if c.Receiver, err = readString(r); err != nil {
		return err
	}
	c.Msg, err = readString(r)
	return err
}

// TriggerEvent reports that a client's log matched a trigger rule.
type TriggerEvent struct {
	ID     uint16
	Sender string
	Attr   string
}

func (*TriggerEvent) contentType() Type { return TypeTriggerEvent }

func (c *TriggerEvent) encode(w io.Writer) error {
	if err := writeUint16(w, c.ID); err != nil {
		return err
	}
	if err := writeString(w, c.Sender); err != nil {
		return err
	}
	return writeString(w, c.Attr)
}

func (c *TriggerEvent) decode(r ByteScanner) error {
	var err error
	if c.ID, err = readUint16(r); err != nil {
		return err
	}
	if c.Sender, err = readString(r); err != nil {
		return err
	}
	c.Attr, err = readString(r)
	return err
}

// DpsEntry is one row of a shared combat parse.
type DpsEntry struct {
	Name string
	Dps  string
}

// DpsParse is a parsed combat summary, forwarded only for the session holding
// the dps-parse-sharer flag.
type DpsParse struct {
	Title   string
	Time    string
	Damage  string
	Dps     string
	Entries []DpsEntry
}

func (*DpsParse) contentType() Type { return TypeDpsParse }

func (c *DpsParse) encode(w io.Writer) error {
	for _, s := range []string{c.Title, c.Time, c.Damage, c.Dps} {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	if err := writeByte(w, byte(len(c.Entries))); err != nil {
		return err
	}
	for _, e := range c.Entries {
		if err := writeString(w, e.Name); err != nil {
			return err
		}
		if err := writeString(w, e.Dps); err != nil {
			return err
		}
	}
	return nil
}

func (c *DpsParse) decode(r ByteScanner) error {
	var err error
	if c.Title, err = readString(r); err != nil {
		return err
	}
	if c.Time, err = readString(r); err != nil {
		return err
	}
	if c.Damage, err = readString(r); err != nil {
		return err
	}
	if c.Dps, err = readString(r); err != nil {
		return err
	}
	n, err := r.ReadByte()
	if err != nil {
		return err
	}
	c.Entries = make([]DpsEntry, n)
	for i := range c.Entries {
		if c.Entries[i].Name, err = readString(r); err != nil {
			return err
		}
		if c.Entries[i].Dps, err = readString(r); err != nil {
			return err
		}
	}
	return nil
}
