package schedule

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"hkracing-scraper/pkg/models"
)

// Strategy selects the traversal order over the entity x facet task grid
type Strategy string

const (
	// ByType loops facets in order and fans out over entities inside each.
	// Bulk requests then share a URL path, which keeps the rate limiter on
	// its cheap same-path delay; the expensive path-change delay is paid
	// once per facet boundary.
	ByType Strategy = "by-type"
	// ByEntity loops entities in order and fans out over facets inside each.
	ByEntity Strategy = "by-entity"
)

// String implements fmt.Stringer for logging
func (s Strategy) String() string {
	return string(s)
}

// FetchFunc performs one task of a batch.
type FetchFunc[R any] func(ctx context.Context, entity string, facet models.Facet) (R, error)

// TaskError records one task's terminal failure.
type TaskError struct {
	Entity string
	Facet  models.Facet
	Err    error
}

// Batch holds the collected results of one scheduler run. Partial results
// are normal: an entity appears in ByEntity with whatever facets succeeded.
type Batch[R any] struct {
	ByEntity map[string]map[models.Facet]R
	Failures []TaskError
}

// Scheduler fans a batch of entity x facet fetch tasks out over a bounded
// worker pool. One task's failure never cancels its siblings; it is
// recorded and the batch carries on.
type Scheduler[R any] struct {
	strategy Strategy
	workers  int64
	log      *logrus.Entry
}

func New[R any](strategy Strategy, workers int, log *logrus.Entry) *Scheduler[R] {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler[R]{strategy: strategy, workers: int64(workers), log: log}
}

// Run executes every (entity, facet) pair through fetch and collects the
// results keyed by entity. In the ByType strategy one facet's fan-out fully
// drains before the next facet starts, so peak in-flight fetches never
// exceed the worker bound regardless of batch size.
//
// A cancelled context stops scheduling new tasks; tasks not yet started are
// recorded as failures with the context's error.
func (s *Scheduler[R]) Run(ctx context.Context, entities []string, facets []models.Facet, fetch FetchFunc[R]) *Batch[R] {
	batch := &Batch[R]{ByEntity: make(map[string]map[models.Facet]R)}
	if len(entities) == 0 || len(facets) == 0 {
		return batch
	}

	s.log.WithFields(logrus.Fields{
		"strategy": s.strategy,
		"entities": len(entities),
		"facets":   len(facets),
		"workers":  s.workers,
	}).Debug("Starting fetch batch")

	var mu sync.Mutex
	record := func(entity string, facet models.Facet, value R, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			batch.Failures = append(batch.Failures, TaskError{Entity: entity, Facet: facet, Err: err})
			return
		}
		if batch.ByEntity[entity] == nil {
			batch.ByEntity[entity] = make(map[models.Facet]R)
		}
		batch.ByEntity[entity][facet] = value
	}

	switch s.strategy {
	case ByEntity:
		for _, entity := range entities {
			s.fanOutFacets(ctx, facets, func(facet models.Facet) {
				value, err := fetch(ctx, entity, facet)
				record(entity, facet, value, err)
			}, func(facet models.Facet, err error) {
				record(entity, facet, *new(R), err)
			})
		}
	default:
		for _, facet := range facets {
			s.fanOutEntities(ctx, entities, func(entity string) {
				value, err := fetch(ctx, entity, facet)
				record(entity, facet, value, err)
			}, func(entity string, err error) {
				record(entity, facet, *new(R), err)
			})
		}
	}
	return batch
}

// fanOutEntities runs one facet's entity fan-out and drains it completely
// before returning.
func (s *Scheduler[R]) fanOutEntities(ctx context.Context, entities []string, run func(string), skip func(string, error)) {
	sem := semaphore.NewWeighted(s.workers)
	var wg sync.WaitGroup
	for _, entity := range entities {
		if err := sem.Acquire(ctx, 1); err != nil {
			skip(entity, err)
			continue
		}
		wg.Add(1)
		go func(entity string) {
			defer wg.Done()
			defer sem.Release(1)
			run(entity)
		}(entity)
	}
	wg.Wait()
}

func (s *Scheduler[R]) fanOutFacets(ctx context.Context, facets []models.Facet, run func(models.Facet), skip func(models.Facet, error)) {
	sem := semaphore.NewWeighted(s.workers)
	var wg sync.WaitGroup
	for _, facet := range facets {
		if err := sem.Acquire(ctx, 1); err != nil {
			skip(facet, err)
			continue
		}
		wg.Add(1)
		go func(facet models.Facet) {
			defer wg.Done()
			defer sem.Release(1)
			run(facet)
		}(facet)
	}
	wg.Wait()
}
