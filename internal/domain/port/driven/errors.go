package driven

import "errors"

var (
	// ErrStoreUnavailable marks a failure to open, read or write the durable store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrMalformedRecord marks a record that cannot be stored or decoded.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrQueue marks a failure to append to, read or update the offline queue.
	ErrQueue = errors.New("offline queue error")
)
