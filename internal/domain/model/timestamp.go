package model

import (
	"math"
	"time"
)

// Timestamps are persisted as Unix nanoseconds with 0 reserved for "unset",
// so only instants strictly after the epoch and no later than the largest
// int64 nanosecond survive a round trip.
var (
	MinTimestamp = time.Unix(0, 1).UTC()
	MaxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// TimestampInRange reports whether t can be stored and read back unchanged.
func TimestampInRange(t time.Time) bool {
	return !t.Before(MinTimestamp) && !t.After(MaxTimestamp)
}
