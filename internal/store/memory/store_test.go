package memory_test

import (
	"context"
	"io"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"qms/waitlist-service/internal/models"
	"qms/waitlist-service/internal/store"
	"qms/waitlist-service/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	statuses []models.QueueStatus
}

func (o *recordingObserver) QueueChanged(status models.QueueStatus) {
	o.statuses = append(o.statuses, status)
}

func onsite(people int) store.TakeInput {
	return store.TakeInput{PartySize: people, Source: models.SourceOnsite}
}

func intPtr(v int) *int {
	return &v
}

var _ = Describe("Store", func() {
	var (
		ctx      context.Context
		clock    *fakeClock
		observer *recordingObserver
		st       *memory.Store
		logger   *logrus.Logger
	)

	newStore := func(options memory.Options) *memory.Store {
		options.Now = clock.Now
		options.Observer = observer
		options.Logger = logger
		return memory.NewStore(options)
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = &fakeClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
		observer = &recordingObserver{}
		logger = logrus.New()
		logger.SetOutput(io.Discard)
		st = newStore(memory.Options{})
	})

	Describe("Take", func() {
		It("issues strictly increasing numbers starting at 1", func() {
			for want := 1; want <= 5; want++ {
				result, err := st.Take(ctx, onsite(2))
				Expect(err).NotTo(HaveOccurred())
				Expect(result).To(Equal(models.TicketResult{Number: want, Status: models.StatusWaiting}))
			}
		})

		It("rejects a non-positive party size without advancing the counter", func() {
			_, err := st.Take(ctx, onsite(0))
			Expect(err).To(MatchError(store.ErrValidation))
			_, err = st.Take(ctx, onsite(-3))
			Expect(err).To(MatchError(store.ErrValidation))

			result, err := st.Take(ctx, onsite(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Number).To(Equal(1))
		})

		It("rejects an unknown source", func() {
			_, err := st.Take(ctx, store.TakeInput{PartySize: 2, Source: "walk-in"})
			Expect(err).To(MatchError(store.ErrValidation))
		})

		It("requires valid contact details for Line official", func() {
			_, err := st.Take(ctx, store.TakeInput{PartySize: 2, Source: models.SourceLineOfficial, ContactName: "Amy2", ContactPhone: "0912345678"})
			Expect(err).To(MatchError(store.ErrValidation))

			_, err = st.Take(ctx, store.TakeInput{PartySize: 2, Source: models.SourceLineOfficial, ContactName: "Amy", ContactPhone: "0812345678"})
			Expect(err).To(MatchError(store.ErrValidation))

			result, err := st.Take(ctx, store.TakeInput{PartySize: 2, Source: models.SourceLineOfficial, ContactName: "王小明", ContactPhone: "0912345678"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Number).To(Equal(1))

			entries := st.List(ctx)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ContactName).To(Equal("王小明"))
			Expect(entries[0].EntryID).NotTo(BeEmpty())
		})

		It("drops contact details for onsite parties", func() {
			_, err := st.Take(ctx, store.TakeInput{PartySize: 3, Source: models.SourceOnsite, ContactName: "R2D2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(st.List(ctx)[0].ContactName).To(BeEmpty())
		})

		It("assigns unique numbers under concurrent calls", func() {
			st = newStore(memory.Options{Capacity: 500})
			observer.statuses = nil
			const takers = 64

			var wg sync.WaitGroup
			numbers := make(chan int, takers)
			for i := 0; i < takers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					result, err := st.Take(ctx, onsite(1))
					Expect(err).NotTo(HaveOccurred())
					numbers <- result.Number
				}()
			}
			wg.Wait()
			close(numbers)

			seen := make(map[int]bool)
			for n := range numbers {
				Expect(seen).NotTo(HaveKey(n))
				seen[n] = true
			}
			Expect(seen).To(HaveLen(takers))
			for n := 1; n <= takers; n++ {
				Expect(seen).To(HaveKey(n))
			}
		})
	})

	Describe("concurrency", func() {
		It("removes each number at most once under mixed operations", func() {
			st = newStore(memory.Options{Capacity: 1000})
			const (
				workers = 50
				rounds  = 4
			)

			var (
				mu      sync.Mutex
				issued  = make(map[int]bool)
				removed = make(map[int]int)
				wg      sync.WaitGroup
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(worker int) {
					defer wg.Done()
					defer GinkgoRecover()
					for round := 0; round < rounds; round++ {
						taken, err := st.Take(ctx, onsite(1))
						Expect(err).NotTo(HaveOccurred())
						mu.Lock()
						issued[taken.Number] = true
						mu.Unlock()

						var result models.TicketResult
						switch (worker + round) % 3 {
						case 0:
							result, err = st.AutoCallNext(ctx)
						case 1:
							result, err = st.CallSpecific(ctx, taken.Number-1)
						default:
							result, err = st.Cancel(ctx, taken.Number)
						}
						st.Status(ctx)
						if err != nil {
							Expect(err).To(Or(MatchError(store.ErrQueueEmpty), MatchError(store.ErrTicketNotFound)))
							continue
						}
						mu.Lock()
						removed[result.Number]++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			Expect(issued).To(HaveLen(workers * rounds))
			for number, count := range removed {
				Expect(count).To(Equal(1), "number %d removed %d times", number, count)
				Expect(issued).To(HaveKey(number))
			}
			live := st.List(ctx)
			for _, entry := range live {
				Expect(removed).NotTo(HaveKey(entry.Number))
			}
			Expect(len(removed) + len(live)).To(Equal(len(issued)))
		})
	})

	Describe("capacity", func() {
		It("evicts the oldest entry by default", func() {
			st = newStore(memory.Options{Capacity: 2})
			for i := 0; i < 3; i++ {
				_, err := st.Take(ctx, onsite(i+1))
				Expect(err).NotTo(HaveOccurred())
			}
			entries := st.List(ctx)
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Number).To(Equal(2))
			Expect(entries[1].Number).To(Equal(3))

			_, err := st.Cancel(ctx, 1)
			Expect(err).To(MatchError(store.ErrTicketNotFound))
		})

		It("rejects when the reject policy is set and keeps the counter", func() {
			st = newStore(memory.Options{Capacity: 1, FullPolicy: store.FullPolicyReject})
			_, err := st.Take(ctx, onsite(1))
			Expect(err).NotTo(HaveOccurred())

			_, err = st.Take(ctx, onsite(1))
			Expect(err).To(MatchError(store.ErrQueueFull))

			_, err = st.AutoCallNext(ctx)
			Expect(err).NotTo(HaveOccurred())
			result, err := st.Take(ctx, onsite(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Number).To(Equal(2))
		})

		It("frees space held by expired entries before applying the policy", func() {
			st = newStore(memory.Options{Capacity: 1, TTL: time.Minute, FullPolicy: store.FullPolicyReject})
			_, err := st.Take(ctx, onsite(1))
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(time.Minute)

			result, err := st.Take(ctx, onsite(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Number).To(Equal(2))
		})
	})

	Describe("Cancel", func() {
		It("removes a waiting entry", func() {
			_, _ = st.Take(ctx, onsite(2))
			result, err := st.Cancel(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(models.TicketResult{Number: 1, Status: models.StatusCancelled}))
			Expect(st.List(ctx)).To(BeEmpty())
		})

		It("fails for numbers never issued or already removed", func() {
			_, err := st.Cancel(ctx, 42)
			Expect(err).To(MatchError(store.ErrTicketNotFound))

			_, _ = st.Take(ctx, onsite(2))
			_, err = st.Cancel(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			_, err = st.Cancel(ctx, 1)
			Expect(err).To(MatchError(store.ErrTicketNotFound))
		})
	})

	Describe("CallSpecific", func() {
		It("completes the requested ticket out of order", func() {
			_, _ = st.Take(ctx, onsite(2))
			_, _ = st.Take(ctx, onsite(4))

			result, err := st.CallSpecific(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(models.TicketResult{Number: 2, Status: models.StatusCompleted}))

			status := st.Status(ctx)
			Expect(status.NextNumber).To(Equal(intPtr(1)))
			Expect(status.LastCalledNumber).To(Equal(intPtr(2)))
		})

		It("fails for unknown numbers", func() {
			_, err := st.CallSpecific(ctx, 9)
			Expect(err).To(MatchError(store.ErrTicketNotFound))
		})
	})

	Describe("AutoCallNext", func() {
		It("always picks the smallest live number", func() {
			for i := 0; i < 4; i++ {
				_, _ = st.Take(ctx, onsite(i+1))
			}
			_, err := st.Cancel(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			_, err = st.CallSpecific(ctx, 3)
			Expect(err).NotTo(HaveOccurred())

			result, err := st.AutoCallNext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(models.TicketResult{Number: 2, Status: models.StatusCompleted}))

			result, err = st.AutoCallNext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Number).To(Equal(4))
		})

		It("fails on an empty queue without touching the counter", func() {
			_, err := st.AutoCallNext(ctx)
			Expect(err).To(MatchError(store.ErrQueueEmpty))

			result, err := st.Take(ctx, onsite(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Number).To(Equal(1))
		})
	})

	Describe("Status", func() {
		It("reports an empty queue", func() {
			Expect(st.Status(ctx)).To(Equal(models.QueueStatus{}))
		})

		It("follows a take, call and empty cycle", func() {
			result, err := st.Take(ctx, onsite(4))
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(models.TicketResult{Number: 1, Status: models.StatusWaiting}))

			Expect(st.Status(ctx)).To(Equal(models.QueueStatus{
				CurrentNumber: intPtr(0),
				NextNumber:    intPtr(1),
				NextPartySize: 4,
			}))

			result, err = st.AutoCallNext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(models.TicketResult{Number: 1, Status: models.StatusCompleted}))

			status := st.Status(ctx)
			Expect(status.CurrentNumber).To(BeNil())
			Expect(status.NextNumber).To(BeNil())
			Expect(status.NextPartySize).To(Equal(0))
			Expect(status.RemainingGroups).To(Equal(0))
			Expect(status.LastCalledNumber).To(Equal(intPtr(1)))
		})

		It("moves to the second ticket after the first is cancelled", func() {
			_, _ = st.Take(ctx, onsite(2))
			second, _ := st.Take(ctx, onsite(3))
			_, err := st.Cancel(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			status := st.Status(ctx)
			Expect(status.NextNumber).To(Equal(intPtr(second.Number)))
			Expect(status.NextPartySize).To(Equal(3))
			Expect(status.CurrentNumber).To(Equal(intPtr(1)))
			Expect(status.RemainingGroups).To(Equal(0))
		})

		It("counts groups behind the next one", func() {
			for i := 0; i < 4; i++ {
				_, _ = st.Take(ctx, onsite(2))
			}
			Expect(st.Status(ctx).RemainingGroups).To(Equal(3))
		})

		It("notifies the observer after every mutation", func() {
			_, _ = st.Take(ctx, onsite(2))
			_, _ = st.Take(ctx, onsite(5))
			_, _ = st.AutoCallNext(ctx)

			Expect(observer.statuses).To(HaveLen(3))
			last := observer.statuses[2]
			Expect(last.NextNumber).To(Equal(intPtr(2)))
			Expect(last.NextPartySize).To(Equal(5))
		})
	})

	Describe("expiry", func() {
		BeforeEach(func() {
			st = newStore(memory.Options{TTL: time.Hour})
			_, err := st.Take(ctx, onsite(2))
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps entries alive until the lifetime ends", func() {
			clock.Advance(time.Hour - time.Second)
			Expect(st.List(ctx)).To(HaveLen(1))
		})

		It("hides entries once the lifetime is reached", func() {
			clock.Advance(time.Hour)

			_, err := st.Cancel(ctx, 1)
			Expect(err).To(MatchError(store.ErrTicketNotFound))
			_, err = st.CallSpecific(ctx, 1)
			Expect(err).To(MatchError(store.ErrTicketNotFound))
			_, err = st.AutoCallNext(ctx)
			Expect(err).To(MatchError(store.ErrQueueEmpty))
			Expect(st.Status(ctx).NextNumber).To(BeNil())
		})

		It("never reuses an expired number", func() {
			clock.Advance(2 * time.Hour)
			result, err := st.Take(ctx, onsite(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Number).To(Equal(2))
		})

		It("sweeps expired entries", func() {
			clock.Advance(30 * time.Minute)
			_, _ = st.Take(ctx, onsite(3))
			clock.Advance(30 * time.Minute)

			Expect(st.Sweep(ctx)).To(Equal(1))
			Expect(st.Sweep(ctx)).To(Equal(0))
			entries := st.List(ctx)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Number).To(Equal(2))
		})
	})
})
