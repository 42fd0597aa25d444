package fetch

import (
	"context"
)

// Item is a single package fetch. Every item writes to its own output
// directory, so items never step on each other and can run concurrently.
type Item interface {
	Fetch(ctx context.Context) error
	ID() string
}

// Queue runs package fetches with bounded concurrency. The first error wins
// and aborts the queue.
type Queue struct {
	items      []Item
	limit      int
	OnProgress func(done int, total int)
}

// NewQueue creates a queue running at most limit fetches at once
func NewQueue(limit int) *Queue {
	if limit < 1 {
		limit = 8
	}
	return &Queue{limit: limit}
}

// Add adds a new item to the queue
func (q *Queue) Add(item Item) {
	q.items = append(q.items, item)
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	return len(q.items)
}

// Start fetches all queued items. It blocks until everything is done or one
// fetch failed. On failure the remaining fetches are cancelled.
func (q *Queue) Start(ctx context.Context) error {
	if len(q.items) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan int, q.limit)
	// buffered so stragglers never block after an early error return
	errc := make(chan error, len(q.items))

	go func() {
		for _, item := range q.items {
			sem <- 1
			go func(item Item) {
				errc <- item.Fetch(ctx)
				<-sem
			}(item)
		}
	}()

	for done := 0; done < len(q.items); done++ {
		if err := <-errc; err != nil {
			return err
		}
		if q.OnProgress != nil {
			q.OnProgress(done+1, len(q.items))
		}
	}
	return nil
}
