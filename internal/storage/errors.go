package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSlotEmpty is returned when a slot operation needs an occupant and there is none.
	ErrSlotEmpty = errors.New("slot is empty")

	// ErrOccupantChanged is returned when the expected occupancy no longer holds the slot.
	ErrOccupantChanged = errors.New("slot occupant changed")

	// ErrNoFreeSlot is returned when a promotion finds every slot occupied.
	ErrNoFreeSlot = errors.New("no free slot")

	// ErrCapacityExceeded is returned when an extension would push an occupancy
	// beyond the maximum boost duration.
	ErrCapacityExceeded = errors.New("capacity exceeded: maximum boost duration reached")
)
