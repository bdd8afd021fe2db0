// Package gate decides whether public registration for a session is possible.
package gate

import "time"

type Status string

const (
	// StatusOpen - the registration form may be submitted.
	StatusOpen Status = "open"
	// StatusFull - capacity reached, only the waitlist is available.
	StatusFull Status = "full"
	// StatusPending - registration has not opened yet.
	StatusPending Status = "pending"
)

// Evaluate is a pure function of the session state and the current time.
// It must be recomputed on every request: "now" moves, results are never cached.
func Evaluate(openAt *time.Time, current, max int, now time.Time) Status {
	if current >= max {
		return StatusFull
	}
	if openAt != nil && now.Before(*openAt) {
		return StatusPending
	}
	return StatusOpen
}
