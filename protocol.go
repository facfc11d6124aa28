package evpoll

import (
	"bytes"
)

// Protocol frames the byte stream of a connection. UnPacket is called after
// every read until it returns an empty message; whatever it leaves in buffer
// is kept for the next read. Packet frames an outgoing message.
type Protocol interface {
	UnPacket(Connection, *bytes.Buffer) []byte
	Packet(Connection, []byte) []byte
}

// RawProtocol passes every read through as one message. It is the default.
type RawProtocol struct{}

func (RawProtocol) UnPacket(c Connection, buffer *bytes.Buffer) []byte {
	if buffer.Len() == 0 {
		return nil
	}
	buf := buffer.Bytes()
	buffer.Reset()
	return buf
}

func (RawProtocol) Packet(c Connection, data []byte) []byte {
	return data
}
