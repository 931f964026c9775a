package wire

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/zlib"
)

// TriggerDesc sub-commands.
const (
	TriggerCmdAdd    byte = 1
	TriggerCmdRemove byte = 2
)

// RGB is a presentation color for trigger overlay text.
type RGB struct {
	R, G, B byte
}

// TriggerRule is the persisted configuration of one trigger: the match rule,
// rate-limit settings and presentation fields. Runtime throttle counters live
// in the trigger package, not here, so they can never leak into the container.
type TriggerRule struct {
	ID          uint16
	Title       string
	Active      bool
	Category    string
	Regex       string
	React       string
	Quantity    uint16 // 0 = unlimited
	IgnoreTimer uint16 // throttle window, seconds

	ServerMsgActive bool
	ServerMsg       string
	ServerMsgSize   byte
	ServerMsgColor  RGB

	SoundActive bool
	Sound       string

	TimerActive         bool
	TimerShow1          bool
	TimerShow2          bool
	TimerShow3          bool
	TimerPeriod         uint16
	TimerWarning        uint16
	TimerWarningMsg     string
	TimerWarningMsgSize byte
	TimerWarningColor   RGB
	TimerWarningSound   string
	TimerRemove         uint16
	PrivateSound        bool
}

// TriggerDesc carries a trigger rule set, wrapped in a single zlib member so
// large sets stay small on the wire. The same container is the on-disk format
// of the trigger store.
type TriggerDesc struct {
	Cmd   byte
	Rules []TriggerRule
}

func (*TriggerDesc) contentType() Type { return TypeTriggerDesc }

func (c *TriggerDesc) encode(w io.Writer) error {
	zw := zlib.NewWriter(w)
	if err := c.EncodeRaw(zw); err != nil {
		return err
	}
	return zw.Close()
}

// EncodeRaw writes the uncompressed rule set. Exposed for the trigger store,
// which shares the layout.
func (c *TriggerDesc) EncodeRaw(w io.Writer) error {
	if err := writeByte(w, c.Cmd); err != nil {
		return err
	}
	if err := writeUint16(w, uint16(len(c.Rules))); err != nil {
		return err
	}
	for i := range c.Rules {
		if err := writeRule(w, &c.Rules[i]); err != nil {
			return err
		}
	}
	return nil
}

// decode inflates exactly one zlib member. r must hand out single bytes so
// the decompressor cannot buffer past the member's end; the trailing checksum
// is consumed by draining the reader, which keeps the outer packet stream
// positioned on the next tag byte.
func (c *TriggerDesc) decode(r ByteScanner) error {
	zr, err := zlib.NewReader(byteReaderOnly{r})
	if err != nil {
		return err
	}
	if err := c.DecodeRaw(bufio.NewReader(zr)); err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, zr); err != nil {
		return err
	}
	return zr.Close()
}

// DecodeRaw reads the uncompressed rule set.
func (c *TriggerDesc) DecodeRaw(r ByteScanner) error {
	cmd, err := r.ReadByte()
	if err != nil {
		return err
	}
	c.Cmd = cmd
	n, err := readUint16(r)
	if err != nil {
		return err
	}
	c.Rules = make([]TriggerRule, n)
	for i := range c.Rules {
		if err := readRule(r, &c.Rules[i]); err != nil {
			return err
		}
	}
	return nil
}

// byteReaderOnly hides any bulk Read so zlib pulls compressed input strictly
// byte by byte.
type byteReaderOnly struct {
	r ByteScanner
}

func (b byteReaderOnly) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c, err := b.r.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = c
	return 1, nil
}

func (b byteReaderOnly) ReadByte() (byte, error) { return b.r.ReadByte() }

func writeRule(w io.Writer, t *TriggerRule) error {
	if err := writeUint16(w, t.ID); err != nil {
		return err
	}
	if err := writeString(w, t.Title); err != nil {
		return err
	}
	if err := writeBool(w, t.Active); err != nil {
		return err
	}
	if err := writeString(w, t.Category); err != nil {
		return err
	}
	if err := writeString(w, t.Regex); err != nil {
		return err
	}
	if err := writeString(w, t.React); err != nil {
		return err
	}
	if err := writeUint16(w, t.Quantity); err != nil {
		return err
	}
	if err := writeUint16(w, t.IgnoreTimer); err != nil {
		return err
	}
	if err := writeBool(w, t.ServerMsgActive); err != nil {
		return err
	}
	if err := writeString(w, t.ServerMsg); err != nil {
		return err
	}
	if err := writeByte(w, t.ServerMsgSize); err != nil {
		return err
	}
	if err := writeRGB(w, t.ServerMsgColor); err != nil {
		return err
	}
	if err := writeBool(w, t.SoundActive); err != nil {
		return err
	}
	if err := writeString(w, t.Sound); err != nil {
		return err
	}
	if err := writeBool(w, t.TimerActive); err != nil {
		return err
	}
	if err := writeBool(w, t.TimerShow1); err != nil {
		return err
	}
	if err := writeBool(w, t.TimerShow2); err != nil {
		return err
	}
	if err := writeBool(w, t.TimerShow3); err != nil {
		return err
	}
	if err := writeUint16(w, t.TimerPeriod); err != nil {
		return err
	}
	if err := writeUint16(w, t.TimerWarning); err != nil {
		return err
	}
	if err := writeString(w, t.TimerWarningMsg); err != nil {
		return err
	}
	if err := writeByte(w, t.TimerWarningMsgSize); err != nil {
		return err
	}
	if err := writeRGB(w, t.TimerWarningColor); err != nil {
		return err
	}
	if err := writeString(w, t.TimerWarningSound); err != nil {
		return err
	}
	if err := writeUint16(w, t.TimerRemove); err != nil {
		return err
	}
	return writeBool(w, t.PrivateSound)
}

func readRule(r ByteScanner, t *TriggerRule) (err error) {
	if t.ID, err = readUint16(r); err != nil {
		return err
	}
	if t.Title, err = readString(r); err != nil {
		return err
	}
	if t.Active, err = readBool(r); err != nil {
		return err
	}
	if t.Category, err = readString(r); err != nil {
		return err
	}
	if t.Regex, err = readString(r); err != nil {
		return err
	}
	if t.React, err = readString(r); err != nil {
		return err
	}
	if t.Quantity, err = readUint16(r); err != nil {
		return err
	}
	if t.IgnoreTimer, err = readUint16(r); err != nil {
		return err
	}
	if t.ServerMsgActive, err = readBool(r); err != nil {
		return err
	}
	if t.ServerMsg, err = readString(r); err != nil {
		return err
	}
	if t.ServerMsgSize, err = r.ReadByte(); err != nil {
		return err
	}
	if t.ServerMsgColor, err = readRGB(r); err != nil {
		return err
	}
	if t.SoundActive, err = readBool(r); err != nil {
		return err
	}
	if t.Sound, err = readString(r); err != nil {
		return err
	}
	if t.TimerActive, err = readBool(r); err != nil {
		return err
	}
	if t.TimerShow1, err = readBool(r); err != nil {
		return err
	}
	if t.TimerShow2, err = readBool(r); err != nil {
		return err
	}
	if t.TimerShow3, err = readBool(r); err != nil {
		return err
	}
	if t.TimerPeriod, err = readUint16(r); err != nil {
		return err
	}
	if t.TimerWarning, err = readUint16(r); err != nil {
		return err
	}
	if t.TimerWarningMsg, err = readString(r); err != nil {
		return err
	}
	if t.TimerWarningMsgSize, err = r.ReadByte(); err != nil {
		return err
	}
	if t.TimerWarningColor, err = readRGB(r); err != nil {
		return err
	}
	if t.TimerWarningSound, err = readString(r); err != nil {
		return err
	}
	if t.TimerRemove, err = readUint16(r); err != nil {
		return err
	}
	t.PrivateSound, err = readBool(r)
	return err
}

func writeRGB(w io.Writer, c RGB) error {
	_, err := w.Write([]byte{c.R, c.G, c.B})
	return err
}

func readRGB(r ByteScanner) (RGB, error) {
	var b [3]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return RGB{}, err
	}
	return RGB{R: b[0], G: b[1], B: b[2]}, nil
}
