package event

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Limits on inbound fields. Anything larger is rejected before it
// reaches a handler.
const (
	MaxRoomNameLen  = 128
	MaxEventTypeLen = 64
	MaxPayloadBytes = 16 * 1024
)

// DecodeInbound parses and validates a raw client frame.
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch in.Type {
	case TypeAuthenticate, TypeJoinRoom, TypeLeaveRoom, TypePublish, TypeHeartbeat:
		return &in, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
}

// Authenticate decodes the payload of an authenticate event.
func (in *Inbound) Authenticate() (*AuthenticatePayload, error) {
	var p AuthenticatePayload
	if err := json.Unmarshal(in.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if p.UserID == "" || p.Token == "" {
		return nil, fmt.Errorf("%w: authenticate requires userId and token", ErrMalformedEvent)
	}
	return &p, nil
}

// Room decodes the payload of a join_room or leave_room event.
func (in *Inbound) Room() (*RoomPayload, error) {
	var p RoomPayload
	if err := json.Unmarshal(in.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validateRoomName(p.Room); err != nil {
		return nil, err
	}
	return &p, nil
}

// Publish decodes the payload of a publish event.
func (in *Inbound) Publish() (*PublishPayload, error) {
	var p PublishPayload
	if err := json.Unmarshal(in.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := validateRoomName(p.Room); err != nil {
		return nil, err
	}
	if p.EventType == "" || len(p.EventType) > MaxEventTypeLen {
		return nil, fmt.Errorf("%w: bad eventType", ErrMalformedEvent)
	}
	if len(p.Payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformedEvent, MaxPayloadBytes)
	}
	if len(p.Payload) > 0 && !json.Valid(p.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedEvent)
	}
	return &p, nil
}

func validateRoomName(room string) error {
	if room == "" || len(room) > MaxRoomNameLen {
		return fmt.Errorf("%w: bad room name", ErrMalformedEvent)
	}
	if !utf8.ValidString(room) {
		return fmt.Errorf("%w: room name is not valid UTF-8", ErrMalformedEvent)
	}
	return nil
}
