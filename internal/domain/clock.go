package domain

import "github.com/jonboulle/clockwork"

// clock stamps observations that arrive without a usable timestamp.
var clock = clockwork.NewRealClock()

// SetClock replaces the ingestion-time source. Pass nil to restore real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
