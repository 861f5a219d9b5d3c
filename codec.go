package wschat

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Kind is the type of a chat event as carried in the "type" field of the payload.
type Kind string

const (
	KindJoin  Kind = "JOIN"
	KindLeave Kind = "LEAVE"
	KindChat  Kind = "CHAT"
)

func (k Kind) Valid() bool {
	switch k {
	case KindJoin, KindLeave, KindChat:
		return true
	}
	return false
}

// ChatEvent is one application event exchanged on the public topic.
// Content is only meaningful for KindChat.
type ChatEvent struct {
	Sender  string
	Content string
	Kind    Kind
}

func (e ChatEvent) String() string {
	if e.Kind == KindChat {
		return e.Sender + ": " + e.Content
	}
	return e.Sender + " " + string(e.Kind)
}

// payload is the JSON envelope. Field order is the canonical encoding order.
type payload struct {
	Sender  string `json:"sender" validate:"required"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type" validate:"required,oneof=JOIN LEAVE CHAT"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// EncodeEvent serializes e into its JSON payload.
func EncodeEvent(e ChatEvent) ([]byte, error) {
	p := payload{Sender: e.Sender, Content: e.Content, Type: string(e.Kind)}
	if err := validate.Struct(p); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	bts, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	return bts, nil
}

// DecodeEvent parses a JSON payload. It fails with ErrMalformedFrame when the
// payload is not JSON, lacks a sender or type, or carries an unknown type.
func DecodeEvent(bts []byte) (ChatEvent, error) {
	var p payload
	if err := json.Unmarshal(bts, &p); err != nil {
		return ChatEvent{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if err := validate.Struct(p); err != nil {
		return ChatEvent{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	return ChatEvent{Sender: p.Sender, Content: p.Content, Kind: Kind(p.Type)}, nil
}
