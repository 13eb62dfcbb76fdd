package comms

import "errors"

var (
	// ErrConnectionFailure wraps transport dial and I/O errors.
	ErrConnectionFailure = errors.New("connection failure")
	// ErrDuplicatePeer is returned when a peer with the same address is already registered.
	ErrDuplicatePeer = errors.New("duplicate peer")
	// ErrProtocolViolation marks a malformed or unknown control frame.
	ErrProtocolViolation = errors.New("protocol violation")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrInvalidAddress    = errors.New("invalid address")
	// ErrInvalidPayload is returned for payloads containing the frame terminator.
	ErrInvalidPayload = errors.New("payload contains frame terminator")
	// ErrReservedPrefix is returned for chat payloads starting with the control prefix.
	ErrReservedPrefix = errors.New("payload starts with control prefix")
	ErrClosed         = errors.New("connection closed")
)
