package models

type TicketResult struct {
	Number int    `json:"number"`
	Status string `json:"status"`
}

// QueueStatus is derived from the live entries on every read.
// CurrentNumber is the lowest waiting number minus one and is nil when the
// queue is empty. LastCalledNumber is set only by an explicit call.
type QueueStatus struct {
	CurrentNumber    *int `json:"current_number"`
	NextNumber       *int `json:"next_number"`
	NextPartySize    int  `json:"next_party_size"`
	RemainingGroups  int  `json:"remaining_groups"`
	LastCalledNumber *int `json:"last_called_number"`
}
