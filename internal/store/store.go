package store

import (
	"context"

	"qms/waitlist-service/internal/models"
)

type TakeInput struct {
	PartySize    int
	Source       string
	ContactName  string
	ContactPhone string
}

// QueueStore is the walk-in queue. Implementations serialize every call.
type QueueStore interface {
	Take(ctx context.Context, input TakeInput) (models.TicketResult, error)
	Cancel(ctx context.Context, number int) (models.TicketResult, error)
	CallSpecific(ctx context.Context, number int) (models.TicketResult, error)
	AutoCallNext(ctx context.Context) (models.TicketResult, error)
	Status(ctx context.Context) models.QueueStatus
	List(ctx context.Context) []models.QueueEntry
}

// StatusObserver receives the queue status after each successful mutation.
type StatusObserver interface {
	QueueChanged(status models.QueueStatus)
}

type FullPolicy string

const (
	FullPolicyEvict  FullPolicy = "evict"
	FullPolicyReject FullPolicy = "reject"
)

func (p FullPolicy) Valid() bool {
	return p == FullPolicyEvict || p == FullPolicyReject
}
