package search

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spoton/recommendation-service/internal/domain"
)

// DefaultConcurrency caps how many queries SearchAll runs at once.
const DefaultConcurrency = 4

// Outcome is the result of one query in a SearchAll batch.
type Outcome struct {
	Query   Query
	Results []domain.SearchResult
	Err     error
}

// Batch is the outcome of every query in a SearchAll call, in query order.
type Batch []Outcome

// Results flattens the results of the successful queries.
func (b Batch) Results() []domain.SearchResult {
	var out []domain.SearchResult
	for _, o := range b {
		if o.Err == nil {
			out = append(out, o.Results...)
		}
	}
	return out
}

// Failed returns the number of failed queries.
func (b Batch) Failed() int {
	n := 0
	for _, o := range b {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Err joins the per-query errors, or returns nil if every query succeeded.
func (b Batch) Err() error {
	var errs []error
	for _, o := range b {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("query %q: %w", o.Query.Text, o.Err))
		}
	}
	return errors.Join(errs...)
}

// AllFailed reports whether the batch had queries and none succeeded.
func (b Batch) AllFailed() bool {
	return len(b) > 0 && b.Failed() == len(b)
}

// SearchAll runs the queries concurrently. A failing query does not cancel
// its siblings; its error is kept in the returned batch.
func SearchAll(ctx context.Context, s Searcher, queries []Query, concurrency int) Batch {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	batch := make(Batch, len(queries))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, q := range queries {
		batch[i].Query = q
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				batch[i].Err = err
				return nil
			}
			batch[i].Results, batch[i].Err = s.Search(ctx, q)
			return nil
		})
	}
	_ = g.Wait()
	return batch
}
