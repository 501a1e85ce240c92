package domain

import (
	"github.com/google/uuid"

	dErrors "kycflow/pkg/domain-errors"
)

// SessionID identifies one end-to-end verification attempt.
// It is the idempotency key for everything the device sends to the remote service.
type SessionID uuid.UUID

// DeviceID identifies the device that captured a session.
type DeviceID uuid.UUID

// NewSessionID allocates a fresh random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// ParseSessionID parses external input into a SessionID.
//
// Errors: returns CodeInvalidInput for empty, malformed, or nil UUIDs.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session id")
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(u), nil
}

// ParseDeviceID parses external input into a DeviceID.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := parseUUID(s, "device id")
	if err != nil {
		return DeviceID{}, err
	}
	return DeviceID(u), nil
}

func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id SessionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id DeviceID) String() string { return uuid.UUID(id).String() }
func (id DeviceID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText keeps typed IDs readable in JSON payloads and map keys.
func (id SessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *SessionID) UnmarshalText(b []byte) error {
	parsed, err := ParseSessionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
