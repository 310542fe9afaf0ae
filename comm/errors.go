package comm

import "errors"

// ErrCommunicationFailure is returned when a message could not be handed to
// the transport or the transport reported a failed delivery.
var ErrCommunicationFailure = errors.New("communication failure")

// ErrUnknownMessageType is returned when no handler is set for a message type.
var ErrUnknownMessageType = errors.New("unknown message type")
