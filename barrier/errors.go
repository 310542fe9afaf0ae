package barrier

import (
	"errors"

	"grindstone.dev/grindstone/comm"
)

var (
	// ErrInvalidGroupState is returned for mutations of a destroyed group.
	ErrInvalidGroupState = errors.New("invalid barrier group state")

	// ErrCapacityViolation is returned when removing more barriers than are
	// free, or adding a waiter to a group without barriers.
	ErrCapacityViolation = errors.New("barrier capacity violation")

	// ErrCommunicationFailure is returned when a mutation could not be
	// forwarded to the coordinator.
	ErrCommunicationFailure = comm.ErrCommunicationFailure

	// ErrCancelledBarrier is returned by Barrier.Await once the barrier has
	// been cancelled.
	ErrCancelledBarrier = errors.New("barrier cancelled")

	// ErrAwaitInProgress is returned when Await is called on a Barrier that
	// another goroutine is already waiting on.
	ErrAwaitInProgress = errors.New("barrier already has a waiter")
)
