package scraper

import (
	"context"
	"sync"
	"time"

	"rivulet/internal/domain"
	"rivulet/internal/logging"
	"rivulet/internal/store"
)

// jobState is a work item's position in Queued → Running → (Done|Failed).
// Terminal states are not retried.
type jobState int

const (
	stateQueued jobState = iota
	stateRunning
	stateDone
	stateFailed
)

// Service is the long-lived background scraping task: a bounded queue of
// pending items drained by a worker pool, sharing one Scraper (and so one
// browser allocator).
type Service struct {
	scraper     *Scraper
	store       *store.Store
	logger      logging.Logger
	concurrency int

	mu       sync.Mutex
	inFlight map[string]jobState
	queue    chan domain.Item

	wg     sync.WaitGroup
	quit   chan struct{}
	closed bool
}

// NewService creates a scraping service. queueSize bounds how many items
// may be pending before Queue blocks (backpressure).
func NewService(scraper *Scraper, st *store.Store, logger logging.Logger, concurrency, queueSize int) *Service {
	if concurrency < 1 {
		concurrency = 3
	}
	if queueSize < 1 {
		queueSize = 100
	}
	return &Service{
		scraper:     scraper,
		store:       st,
		logger:      logger,
		concurrency: concurrency,
		inFlight:    make(map[string]jobState),
		queue:       make(chan domain.Item, queueSize),
		quit:        make(chan struct{}),
	}
}

// Start launches the worker pool. Each worker drains the queue
// independently, so jobs are FIFO per worker but interleave arbitrarily
// across workers.
func (svc *Service) Start() {
	for i := 0; i < svc.concurrency; i++ {
		svc.wg.Add(1)
		go svc.worker()
	}
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	for {
		select {
		case <-svc.quit:
			return
		case item, ok := <-svc.queue:
			if !ok {
				return
			}
			svc.runJob(item)
		}
	}
}

func (svc *Service) runJob(item domain.Item) {
	svc.mu.Lock()
	svc.inFlight[item.ID] = stateRunning
	svc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := svc.scraper.Scrape(ctx, *item.Link)

	svc.mu.Lock()
	if err != nil {
		svc.inFlight[item.ID] = stateFailed
	} else {
		svc.inFlight[item.ID] = stateDone
	}
	svc.mu.Unlock()

	if err != nil {
		svc.logger.Warn("scrape failed for item %s: %v", item.ID, err)
		return
	}

	contentType := "text"
	if result.IsHTML {
		contentType = "html"
	}
	if err := svc.store.UpdateItemContent(item.ID, &result.Content, contentType, nil); err != nil {
		svc.logger.Error("persist scraped content for item %s: %v", item.ID, err)
	}
}

// ScrapeSync scrapes items synchronously, bounded to concurrency pages at
// once, committing each result to the store before returning. This is the
// explicit "scrape now" path, as opposed to Queue's fire-and-forget
// background path used after a fetch or sweep.
func (svc *Service) ScrapeSync(ctx context.Context, items []domain.Item, concurrency int) []ItemResult {
	results := svc.scraper.ScrapeItems(ctx, items, concurrency)
	for _, r := range results {
		svc.mu.Lock()
		if r.Err != nil {
			svc.inFlight[r.ItemID] = stateFailed
		} else {
			svc.inFlight[r.ItemID] = stateDone
		}
		svc.mu.Unlock()

		if r.Err != nil {
			svc.logger.Warn("scrape failed for item %s: %v", r.ItemID, r.Err)
			continue
		}
		contentType := "text"
		if r.Result.IsHTML {
			contentType = "html"
		}
		if err := svc.store.UpdateItemContent(r.ItemID, &r.Result.Content, contentType, nil); err != nil {
			svc.logger.Error("persist scraped content for item %s: %v", r.ItemID, err)
		}
	}
	return results
}

// Queue enqueues items for background scraping, non-blocking except when
// the bounded queue is full. Items already in flight (queued, running, or
// terminally resolved without having been cleared) are skipped.
func (svc *Service) Queue(items []domain.Item) {
	for _, item := range items {
		if item.Link == nil || *item.Link == "" {
			continue
		}
		svc.mu.Lock()
		_, inFlight := svc.inFlight[item.ID]
		if !inFlight {
			svc.inFlight[item.ID] = stateQueued
		}
		svc.mu.Unlock()
		if inFlight {
			continue
		}
		svc.queue <- item
	}
}

// Shutdown drains the queue up to gracePeriod, then stops workers and
// terminates the browser process.
func (svc *Service) Shutdown(gracePeriod time.Duration) {
	svc.mu.Lock()
	if svc.closed {
		svc.mu.Unlock()
		return
	}
	svc.closed = true
	svc.mu.Unlock()

	close(svc.queue)

	drained := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(gracePeriod):
		close(svc.quit)
		<-drained
	}

	svc.scraper.Close()
}
