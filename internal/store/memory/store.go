package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = time.Hour
)

var tracer = otel.Tracer("qms/waitlist-service/internal/store/memory")

type Options struct {
	Capacity   int
	TTL        time.Duration
	FullPolicy store.FullPolicy
	Now        func() time.Time
	Observer   store.StatusObserver
	Logger     logrus.FieldLogger
}

// Store is the in-memory walk-in queue. A single mutex guards the entries,
// the ticket counter and the last called number. Expired entries are purged
// under that mutex before any operation reads the entries.
type Store struct {
	mu         sync.Mutex
	entries    map[int]models.QueueEntry
	nextTicket int
	lastCalled int

	capacity int
	ttl      time.Duration
	policy   store.FullPolicy
	now      func() time.Time
	observer store.StatusObserver
	logger   logrus.FieldLogger
}

func NewStore(options Options) *Store {
	capacity := options.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ttl := options.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	policy := options.FullPolicy
	if !policy.Valid() {
		policy = store.FullPolicyEvict
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		entries:    make(map[int]models.QueueEntry, capacity),
		nextTicket: 1,
		capacity:   capacity,
		ttl:        ttl,
		policy:     policy,
		now:        now,
		observer:   options.Observer,
		logger:     logger,
	}
}

func (s *Store) Take(ctx context.Context, input store.TakeInput) (models.TicketResult, error) {
	_, span := tracer.Start(ctx, "queue.take", trace.WithAttributes(
		attribute.String("queue.source", input.Source),
		attribute.Int("queue.party_size", input.PartySize),
	))
	defer span.End()

	if err := store.ValidateTake(input); err != nil {
		recordError(span, err)
		return models.TicketResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)
	if len(s.entries) >= s.capacity {
		if s.policy == store.FullPolicyReject {
			err := errors.Wrapf(store.ErrQueueFull, "capacity %d", s.capacity)
			recordError(span, err)
			return models.TicketResult{}, err
		}
		s.evictOldestLocked()
	}

	number := s.nextTicket
	s.nextTicket++
	entry := models.QueueEntry{
		EntryID:   uuid.NewString(),
		Number:    number,
		PartySize: input.PartySize,
		Source:    input.Source,
		Status:    models.StatusWaiting,
		CreatedAt: now,
	}
	if input.Source == models.SourceLineOfficial {
		entry.ContactName = input.ContactName
		entry.ContactPhone = input.ContactPhone
	}
	s.entries[number] = entry

	span.SetAttributes(attribute.Int("queue.number", number))
	s.logger.WithFields(logrus.Fields{
		"number":     number,
		"entry_id":   entry.EntryID,
		"party_size": entry.PartySize,
		"source":     entry.Source,
	}).Debug("queue take")
	s.notifyLocked()

	return models.TicketResult{Number: number, Status: models.StatusWaiting}, nil
}

func (s *Store) Cancel(ctx context.Context, number int) (models.TicketResult, error) {
	_, span := tracer.Start(ctx, "queue.cancel", trace.WithAttributes(attribute.Int("queue.number", number)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(s.now())
	entry, ok := s.entries[number]
	if !ok || !store.ValidTransition(store.ActionCancel, entry.Status) {
		err := errors.Wrapf(store.ErrTicketNotFound, "ticket %d", number)
		recordError(span, err)
		return models.TicketResult{}, err
	}
	delete(s.entries, number)

	s.logger.WithField("number", number).Debug("queue cancel")
	s.notifyLocked()

	return models.TicketResult{Number: number, Status: store.ResultStatus(store.ActionCancel)}, nil
}

func (s *Store) CallSpecific(ctx context.Context, number int) (models.TicketResult, error) {
	_, span := tracer.Start(ctx, "queue.call", trace.WithAttributes(attribute.Int("queue.number", number)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(s.now())
	entry, ok := s.entries[number]
	if !ok {
		err := errors.Wrapf(store.ErrTicketNotFound, "ticket %d", number)
		recordError(span, err)
		return models.TicketResult{}, err
	}
	if !store.ValidTransition(store.ActionCall, entry.Status) {
		err := errors.Wrapf(store.ErrInvalidState, "ticket %d is %s", number, entry.Status)
		recordError(span, err)
		return models.TicketResult{}, err
	}
	delete(s.entries, number)
	s.lastCalled = number

	s.logger.WithField("number", number).Debug("queue call")
	s.notifyLocked()

	return models.TicketResult{Number: number, Status: store.ResultStatus(store.ActionCall)}, nil
}

func (s *Store) AutoCallNext(ctx context.Context) (models.TicketResult, error) {
	_, span := tracer.Start(ctx, "queue.call_next")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(s.now())
	number, ok := s.lowestLocked(store.ActionCallNext)
	if !ok {
		recordError(span, store.ErrQueueEmpty)
		return models.TicketResult{}, store.ErrQueueEmpty
	}
	delete(s.entries, number)
	s.lastCalled = number

	span.SetAttributes(attribute.Int("queue.number", number))
	s.logger.WithField("number", number).Debug("queue call next")
	s.notifyLocked()

	return models.TicketResult{Number: number, Status: store.ResultStatus(store.ActionCallNext)}, nil
}

func (s *Store) Status(ctx context.Context) models.QueueStatus {
	_, span := tracer.Start(ctx, "queue.status")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(s.now())
	return s.statusLocked()
}

// List returns the live entries in ascending number order.
func (s *Store) List(ctx context.Context) []models.QueueEntry {
	_, span := tracer.Start(ctx, "queue.list")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(s.now())
	entries := make([]models.QueueEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Number < entries[j].Number
	})
	return entries
}

// Sweep drops expired entries and reports how many were removed.
func (s *Store) Sweep(ctx context.Context) int {
	_, span := tracer.Start(ctx, "queue.sweep")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.purgeLocked(s.now())
	span.SetAttributes(attribute.Int("queue.expired", removed))
	return removed
}

func (s *Store) purgeLocked(now time.Time) int {
	removed := 0
	for number, entry := range s.entries {
		if now.Before(entry.CreatedAt.Add(s.ttl)) {
			continue
		}
		delete(s.entries, number)
		removed++
		s.logger.WithFields(logrus.Fields{
			"number": number,
			"status": models.StatusExpired,
		}).Debug("queue entry expired")
	}
	if removed > 0 {
		s.notifyLocked()
	}
	return removed
}

func (s *Store) evictOldestLocked() {
	number, ok := s.lowestLocked("")
	if !ok {
		return
	}
	delete(s.entries, number)
	s.logger.WithFields(logrus.Fields{
		"number":   number,
		"capacity": s.capacity,
	}).Warn("queue full, evicted oldest entry")
}

// lowestLocked finds the smallest number whose status allows action. An
// empty action matches any entry.
func (s *Store) lowestLocked(action string) (int, bool) {
	lowest, found := 0, false
	for number, entry := range s.entries {
		if action != "" && !store.ValidTransition(action, entry.Status) {
			continue
		}
		if !found || number < lowest {
			lowest, found = number, true
		}
	}
	return lowest, found
}

func (s *Store) statusLocked() models.QueueStatus {
	var status models.QueueStatus
	if s.lastCalled > 0 {
		last := s.lastCalled
		status.LastCalledNumber = &last
	}

	next, ok := s.lowestLocked(store.ActionCallNext)
	if !ok {
		return status
	}
	waiting := 0
	for _, entry := range s.entries {
		if entry.Status == models.StatusWaiting {
			waiting++
		}
	}
	current := next - 1
	status.CurrentNumber = &current
	status.NextNumber = &next
	status.NextPartySize = s.entries[next].PartySize
	if waiting > 1 {
		status.RemainingGroups = waiting - 1
	}
	return status
}

// notifyLocked runs under s.mu so observers see statuses in mutation order.
// Observers must not block or call back into the store.
func (s *Store) notifyLocked() {
	if s.observer == nil {
		return
	}
	s.observer.QueueChanged(s.statusLocked())
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
