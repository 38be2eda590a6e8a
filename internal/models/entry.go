package models

import "time"

type QueueEntry struct {
	EntryID      string    `json:"entry_id"`
	Number       int       `json:"number"`
	PartySize    int       `json:"party_size"`
	Source       string    `json:"source"`
	ContactName  string    `json:"contact_name,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	SourceLineOfficial = "Line official"
	SourceOnsite       = "onsite"
)

// Only StatusWaiting is ever stored. The remaining values describe how an
// entry left the queue and appear in responses only.
const (
	StatusWaiting   = "waiting"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

func ValidSource(source string) bool {
	return source == SourceLineOfficial || source == SourceOnsite
}
