package replay

import "errors"

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// ErrNoEvents is returned when the journal holds nothing for the requested mint.
var ErrNoEvents = errors.New("no journaled events")
