package application

import "time"

// SetClock replaces the engine's clock for deterministic tests.
func (e *SyncEngine) SetClock(now func() time.Time) {
	e.now = now
}
