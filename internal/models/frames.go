package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire frames are JSON objects tagged by variant name, e.g.
// {"SendMessage":{"chat_id":"a:b","content":"hi"}}. Variants without a
// payload are encoded as a bare string, e.g. "Heartbeat". Each direction is
// a closed union: exactly one variant must be set, and decoding an unknown
// tag is an error rather than a silent drop.

var ErrUnknownFrame = errors.New("unknown frame variant")

// SendMessageFrame asks the local node to accept and deliver a message.
type SendMessageFrame struct {
	ChatID  string  `json:"chat_id"`
	Content string  `json:"content"`
	ReplyTo *string `json:"reply_to,omitempty"`
}

// AckFrame confirms receipt of a specific message id.
type AckFrame struct {
	MessageID string `json:"message_id"`
}

// MarkReadFrame clears the unread counter of a chat.
type MarkReadFrame struct {
	ChatID string `json:"chat_id"`
}

// UpdateStatusFrame announces a presence status string.
type UpdateStatusFrame struct {
	Status string `json:"status"`
}

// StatusUpdateFrame notifies clients that a node changed status.
type StatusUpdateFrame struct {
	Node   string `json:"node"`
	Status string `json:"status"`
}

// ErrorFrame carries a non-fatal error back to a client.
type ErrorFrame struct {
	Message string `json:"message"`
}

// ChatCreatedFrame tells the counterparty node to materialize the mirror
// side of a newly created chat.
type ChatCreatedFrame struct {
	Initiator string `json:"initiator"`
	ChatID    string `json:"chat_id"`
}

// ClientFrame is the client-to-node union.
type ClientFrame struct {
	SendMessage  *SendMessageFrame
	Ack          *AckFrame
	MarkRead     *MarkReadFrame
	UpdateStatus *UpdateStatusFrame
	Heartbeat    bool
}

// ServerFrame is the node-to-client union.
type ServerFrame struct {
	NewMessage   *Message
	MessageAck   *AckFrame
	StatusUpdate *StatusUpdateFrame
	ChatUpdate   *Chat
	Heartbeat    bool
	Error        *ErrorFrame
}

// PeerFrame is the node-to-node union.
type PeerFrame struct {
	ReceiveMessage *Message
	MessageAck     *AckFrame
	ChatCreated    *ChatCreatedFrame
	Heartbeat      bool
}

func (f ClientFrame) MarshalJSON() ([]byte, error) {
	switch {
	case f.SendMessage != nil:
		return tagged("SendMessage", f.SendMessage)
	case f.Ack != nil:
		return tagged("Ack", f.Ack)
	case f.MarkRead != nil:
		return tagged("MarkRead", f.MarkRead)
	case f.UpdateStatus != nil:
		return tagged("UpdateStatus", f.UpdateStatus)
	case f.Heartbeat:
		return json.Marshal("Heartbeat")
	}
	return nil, fmt.Errorf("client frame: %w: empty", ErrUnknownFrame)
}

func (f *ClientFrame) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTag(data)
	if err != nil {
		return fmt.Errorf("client frame: %w", err)
	}
	switch tag {
	case "SendMessage":
		f.SendMessage = &SendMessageFrame{}
		return json.Unmarshal(payload, f.SendMessage)
	case "Ack":
		f.Ack = &AckFrame{}
		return json.Unmarshal(payload, f.Ack)
	case "MarkRead":
		f.MarkRead = &MarkReadFrame{}
		return json.Unmarshal(payload, f.MarkRead)
	case "UpdateStatus":
		f.UpdateStatus = &UpdateStatusFrame{}
		return json.Unmarshal(payload, f.UpdateStatus)
	case "Heartbeat":
		f.Heartbeat = true
		return nil
	}
	return fmt.Errorf("client frame %q: %w", tag, ErrUnknownFrame)
}

func (f ServerFrame) MarshalJSON() ([]byte, error) {
	switch {
	case f.NewMessage != nil:
		return tagged("NewMessage", f.NewMessage)
	case f.MessageAck != nil:
		return tagged("MessageAck", f.MessageAck)
	case f.StatusUpdate != nil:
		return tagged("StatusUpdate", f.StatusUpdate)
	case f.ChatUpdate != nil:
		return tagged("ChatUpdate", f.ChatUpdate)
	case f.Heartbeat:
		return json.Marshal("Heartbeat")
	case f.Error != nil:
		return tagged("Error", f.Error)
	}
	return nil, fmt.Errorf("server frame: %w: empty", ErrUnknownFrame)
}

func (f *ServerFrame) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTag(data)
	if err != nil {
		return fmt.Errorf("server frame: %w", err)
	}
	switch tag {
	case "NewMessage":
		f.NewMessage = &Message{}
		return json.Unmarshal(payload, f.NewMessage)
	case "MessageAck":
		f.MessageAck = &AckFrame{}
		return json.Unmarshal(payload, f.MessageAck)
	case "StatusUpdate":
		f.StatusUpdate = &StatusUpdateFrame{}
		return json.Unmarshal(payload, f.StatusUpdate)
	case "ChatUpdate":
		f.ChatUpdate = &Chat{}
		return json.Unmarshal(payload, f.ChatUpdate)
	case "Heartbeat":
		f.Heartbeat = true
		return nil
	case "Error":
		f.Error = &ErrorFrame{}
		return json.Unmarshal(payload, f.Error)
	}
	return fmt.Errorf("server frame %q: %w", tag, ErrUnknownFrame)
}

func (f PeerFrame) MarshalJSON() ([]byte, error) {
	switch {
	case f.ReceiveMessage != nil:
		return tagged("ReceiveMessage", f.ReceiveMessage)
	case f.MessageAck != nil:
		return tagged("MessageAck", f.MessageAck)
	case f.ChatCreated != nil:
		return tagged("ChatCreated", f.ChatCreated)
	case f.Heartbeat:
		return json.Marshal("Heartbeat")
	}
	return nil, fmt.Errorf("peer frame: %w: empty", ErrUnknownFrame)
}

func (f *PeerFrame) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTag(data)
	if err != nil {
		return fmt.Errorf("peer frame: %w", err)
	}
	switch tag {
	case "ReceiveMessage":
		f.ReceiveMessage = &Message{}
		return json.Unmarshal(payload, f.ReceiveMessage)
	case "MessageAck":
		f.MessageAck = &AckFrame{}
		return json.Unmarshal(payload, f.MessageAck)
	case "ChatCreated":
		f.ChatCreated = &ChatCreatedFrame{}
		return json.Unmarshal(payload, f.ChatCreated)
	case "Heartbeat":
		f.Heartbeat = true
		return nil
	}
	return fmt.Errorf("peer frame %q: %w", tag, ErrUnknownFrame)
}

func tagged(tag string, payload interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{tag: payload})
}

// splitTag accepts either a bare string ("Heartbeat") or a single-key
// object and returns the variant name with its raw payload.
func splitTag(data []byte) (string, json.RawMessage, error) {
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		return unit, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant tag, got %d", len(obj))
	}
	for tag, payload := range obj {
		return tag, payload, nil
	}
	return "", nil, ErrUnknownFrame
}
