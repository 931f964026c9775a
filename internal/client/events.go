package client

import "github.com/raidtools/partysync/internal/wire"

// Events is the observer surface a presentation layer implements. Callbacks
// run on connector goroutines and must not block.
type Events interface {
	ConnectionEstablished()
	ConnectionLost()
	Disconnected()
	TryingToReconnect()
	LoginFailed()
	PacketReceived(pkt *wire.Packet)
}

// NopEvents discards every notification. Embed it to implement only the
// callbacks you care about.
type NopEvents struct{}

func (NopEvents) ConnectionEstablished()          {}
func (NopEvents) ConnectionLost()                 {}
func (NopEvents) Disconnected()                   {}
func (NopEvents) TryingToReconnect()              {}
func (NopEvents) LoginFailed()                    {}
func (NopEvents) PacketReceived(pkt *wire.Packet) {}
