package proto

import (
	"encoding/json"
	"fmt"
)

// Message is implemented by every value exchanged between workers and the
// coordinator. The type name selects the handler on the receiving side.
type Message interface {
	MessageType() string
}

// BarrierIdentity identifies one waiting call. Scope is the owning worker's
// process identity (or "LOCAL") and Sequence is unique within the scope.
type BarrierIdentity struct {
	Scope    string `json:"scope"`
	Sequence uint64 `json:"sequence"`
}

func (id BarrierIdentity) String() string {
	return fmt.Sprintf("%s/%d", id.Scope, id.Sequence)
}

// AddBarrier registers one more barrier for a group.
type AddBarrier struct {
	Group string `json:"group"`
}

func (AddBarrier) MessageType() string { return "AddBarrier" }

// RemoveBarriers removes N barriers from a group.
type RemoveBarriers struct {
	Group string `json:"group"`
	N     int64  `json:"n"`
}

func (RemoveBarriers) MessageType() string { return "RemoveBarriers" }

// AddWaiter records a waiting call against a group.
type AddWaiter struct {
	Group    string          `json:"group"`
	Identity BarrierIdentity `json:"identity"`
}

func (AddWaiter) MessageType() string { return "AddWaiter" }

// CancelWaiter withdraws a waiting call.
type CancelWaiter struct {
	Group    string          `json:"group"`
	Identity BarrierIdentity `json:"identity"`
}

func (CancelWaiter) MessageType() string { return "CancelWaiter" }

// OpenBarrier is broadcast by the coordinator when a group fires.
type OpenBarrier struct {
	Group string `json:"group"`
}

func (OpenBarrier) MessageType() string { return "OpenBarrier" }

// Envelope carries one encoded message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewEnvelope(msg Message) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", msg.MessageType(), err)
	}
	return Envelope{Type: msg.MessageType(), Payload: payload}, nil
}

// WorkerIdentity names a worker process and the address it can be reached at.
type WorkerIdentity struct {
	ID   string `json:"id"`
	Host string `json:"host"`
}

// Batch is the unit of delivery between processes. Messages in a batch are
// handled in order.
type Batch struct {
	Sender    WorkerIdentity `json:"sender"`
	Envelopes []Envelope     `json:"envelopes"`
}

// Empty is the response for RPCs that return nothing.
type Empty struct{}
