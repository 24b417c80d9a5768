package domain

import "errors"

// Error taxonomy shared by the store, the external clients, and the
// lifecycle manager. Callers classify with errors.Is.
var (
	// ErrDuplicateSlot is returned when a scrim or game already occupies
	// the (guild, timestamp) slot. Surfaced immediately, never retried.
	ErrDuplicateSlot = errors.New("time slot already taken")

	// ErrConflict is returned by the store when a transition lost a
	// compare-and-set race against a concurrent writer.
	ErrConflict = errors.New("record changed since read")

	// ErrInvalidState means a write would violate a game invariant. This
	// is a programming-contract failure and is logged loudly, not retried.
	ErrInvalidState = errors.New("invalid game state")

	// ErrNotFound is returned for lookups of absent guilds, scrims, games.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyDecided signals the benign loser of a host/join race.
	ErrAlreadyDecided = errors.New("server already decided")

	// ErrReservationUnavailable is surfaced after reservation retries
	// are exhausted.
	ErrReservationUnavailable = errors.New("reservation unavailable")

	// ErrConfigurationFailed is surfaced after remote console retries are
	// exhausted. Non-fatal to the game record.
	ErrConfigurationFailed = errors.New("server configuration failed")

	// ErrFetchFailed is a transient result-fetch failure (network, 5xx).
	ErrFetchFailed = errors.New("result fetch failed")

	// ErrUnparseableResult means the result document had an unexpected
	// shape. Retrying will not help until the page changes.
	ErrUnparseableResult = errors.New("unparseable match result")

	// ErrNoServemeKey means the guild has no reservation credential set.
	ErrNoServemeKey = errors.New("no serveme api key configured")
)
