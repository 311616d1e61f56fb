package domain

import "github.com/jonboulle/clockwork"

// clock supplies ProcessedAt timestamps. It is package-level so tests can
// freeze time and assert exact output.
var clock = clockwork.NewRealClock()

// SetClock replaces the package time source. A nil argument restores the
// real clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
