package wire

import (
	"bufio"
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func roundTrip(t *testing.T, p *Packet) *Packet {
	t.Helper()
	var buf bytes.Buffer
	if err := WritePacket(&buf, p); err != nil {
		t.Fatalf("encode %s: %v", p.Type, err)
	}
	got, err := ReadPacket(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("decode %s: %v", p.Type, err)
	}
	return got
}

func TestRoundTripAllVariants(t *testing.T) {
	digest := AuthID{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	tests := []struct {
		name    string
		content Content
	}{
		{"login", &Login{AuthID: digest, Version: ProtocolVersion}},
		{"message", &Message{Msg: "Randa has connected."}},
		{"message empty", &Message{}},
		{"roster", &Roster{Names: []string{"alva", "bryn", "cora"}}},
		{"roster empty", &Roster{Names: []string{}}},
		{"add user", &AddUser{Name: "dain", AuthID: digest}},
		{"remove user", &RemoveUser{Name: "dain"}},
		{"change password", &ChangePassword{Name: "dain", AuthID: digest}},
		{"change right", &ChangeUserRight{Right: RightAdmin, Name: "dain"}},
		{"server cmd", &ServerCommand{Cmd: CmdSetGroupNumber, Param1: "2", Param2: ""}},
		{"client status", &ClientStatus{Entries: []StatusEntry{
			{Ping: 120, Afk: true, Group: 1},
			{Ping: 65535, Admin: true, LogRead: true, LinkDead: true, Group: 4},
		}}},
		{"chat", &Chat{Sender: "alva", Receiver: "raid", Msg: "inc adds"}},
		{"chat to all", &Chat{Sender: "alva", Receiver: ChatToAll, Msg: "hi"}},
		{"trigger event", &TriggerEvent{ID: 42, Sender: "alva", Attr: "Fear;north"}},
		{"trigger event empty attr", &TriggerEvent{ID: 42}},
		{"dps parse", &DpsParse{
			Title: "Trash pull", Time: "0:42", Damage: "1.2M", Dps: "28k",
			Entries: []DpsEntry{{Name: "alva", Dps: "9k"}, {Name: "bryn", Dps: "7k"}},
		}},
		{"trigger desc", &TriggerDesc{Cmd: TriggerCmdAdd, Rules: []TriggerRule{
			{
				ID: 7, Title: "Mortal Blade", Active: true, Regex: `\aMortal Blade\a`,
				Quantity: 2, IgnoreTimer: 20, ServerMsgActive: true, ServerMsg: "JOUST %t",
				ServerMsgSize: 12, ServerMsgColor: RGB{255, 40, 40},
				SoundActive: true, Sound: "horn.wav",
				TimerActive: true, TimerShow1: true, TimerPeriod: 42, TimerWarning: 8,
				TimerWarningMsg: "soon", TimerWarningMsgSize: 12,
				TimerWarningColor: RGB{255, 255, 0}, TimerWarningSound: "<none>",
				TimerRemove: 15,
			},
			{ID: 8, Title: "inactive rule"},
		}}},
		{"trigger desc empty", &TriggerDesc{Cmd: TriggerCmdRemove, Rules: []TriggerRule{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, NewPacket(tt.content))
			if got.Type != tt.content.contentType() {
				t.Fatalf("type mismatch: got %s want %s", got.Type, tt.content.contentType())
			}
			if !reflect.DeepEqual(got.Content, tt.content) {
				t.Errorf("content mismatch:\n got %+v\nwant %+v", got.Content, tt.content)
			}
		})
	}
}

func TestBarePackets(t *testing.T) {
	for _, typ := range []Type{TypePing, TypeAcknowledge, TypeLogout, TypeGetUpdateAll, TypeGetUpdateSounds} {
		got := roundTrip(t, Bare(typ))
		if got.Type != typ || got.Content != nil {
			t.Errorf("bare %s: got type %s content %v", typ, got.Type, got.Content)
		}
	}
}

func TestStringTruncation(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := roundTrip(t, NewPacket(&Message{Msg: long}))
	msg := got.Content.(*Message).Msg
	if len(msg) != 255 {
		t.Fatalf("expected 255-byte truncation, got %d bytes", len(msg))
	}
	if msg != long[:255] {
		t.Errorf("truncated prefix mismatch")
	}

	// Exactly 255 bytes survives untouched.
	exact := strings.Repeat("y", 255)
	got = roundTrip(t, NewPacket(&Message{Msg: exact}))
	if got.Content.(*Message).Msg != exact {
		t.Errorf("255-byte string should round-trip unchanged")
	}
}

func TestUnknownTypeIsFatal(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{200, 1, 2, 3}))
	if _, err := ReadPacket(r); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestStreamStaysAlignedAfterTriggerDesc(t *testing.T) {
	// The compressed container must consume exactly its own bytes so the
	// next tag decodes cleanly.
	var buf bytes.Buffer
	desc := &TriggerDesc{Cmd: TriggerCmdAdd, Rules: []TriggerRule{{ID: 1, Title: "t", Active: true}}}
	if err := WritePacket(&buf, NewPacket(desc)); err != nil {
		t.Fatal(err)
	}
	if err := WritePacket(&buf, NewPacket(&Message{Msg: "after"})); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(&buf)
	first, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("first packet: %v", err)
	}
	if first.Type != TypeTriggerDesc {
		t.Fatalf("first type = %s", first.Type)
	}
	second, err := ReadPacket(r)
	if err != nil {
		t.Fatalf("second packet: %v", err)
	}
	if m, ok := second.Content.(*Message); !ok || m.Msg != "after" {
		t.Fatalf("second packet corrupted: %+v", second)
	}
}

// failAfter counts Write calls and errors once the budget is spent.
type failAfter struct {
	ok     int
	writes int
}

func (w *failAfter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.ok {
		return 0, errors.New("write refused")
	}
	return len(p), nil
}

func TestRuleEncodeStopsAtFirstWriteError(t *testing.T) {
	rule := TriggerRule{ID: 7, Title: "Mortal Blade", Regex: `\aMortal Blade\a`}
	w := &failAfter{ok: 2}
	if err := writeRule(w, &rule); err == nil {
		t.Fatal("expected a write error")
	}
	if w.writes != 3 {
		t.Fatalf("%d writes after the sink failed, want none", w.writes-3)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	p := NewPacket(&Chat{Sender: "a", Receiver: "", Msg: "m"})
	var one, two bytes.Buffer
	if err := WritePacket(&one, p); err != nil {
		t.Fatal(err)
	}
	if err := WritePacket(&two, p); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(one.Bytes(), two.Bytes()) {
		t.Fatalf("encoding not deterministic")
	}
}
