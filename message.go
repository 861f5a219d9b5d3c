package wschat

import "fmt"

// MessageType mirrors the WebSocket opcodes the transport hands to the session.
type MessageType byte

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

func (t MessageType) Is(other MessageType) bool {
	return t == other
}

// IsData reports whether the message carries a STOMP payload.
func (t MessageType) IsData() bool {
	return t.Is(TextMessage) || t.Is(BinaryMessage)
}

// Message is a single WebSocket message as seen by the transport.
type Message interface {
	Type() MessageType
	Data() []byte
	String() string
}

type message struct {
	MessageType MessageType
	MessageData []byte
}

func (m message) Type() MessageType {
	return m.MessageType
}

func (m message) Data() []byte {
	return m.MessageData
}

func (m message) String() string {
	return fmt.Sprintf("Message{type=%d,data=%q}", m.MessageType, m.MessageData)
}

func NewMessage(mt MessageType, data []byte) Message {
	return message{MessageType: mt, MessageData: data}
}

func NewTextMessage(data []byte) Message {
	return NewMessage(TextMessage, data)
}

func NewBinaryMessage(data []byte) Message {
	return NewMessage(BinaryMessage, data)
}

// NewFrameMessage wraps a marshalled STOMP frame in a text message.
func NewFrameMessage(f Frame) Message {
	return NewTextMessage(f.Marshal())
}
