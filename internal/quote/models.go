package quote

import "time"

// Quote is a single domain record. Immutable once created; ids are assigned
// by the store on create and are never reused.
type Quote struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event is the lightweight notification published to the external stream
// after a quote has been durably created. It has no lifecycle of its own.
type Event struct {
	ID int64 `json:"id"`
}
