package mock

import (
	"context"
	"sync"

	"github.com/pilosa/gdelt"
	"github.com/pilosa/gdelt/query"
)

// Backend is a query.Backend which serves fixed rows, or fails with Err.
type Backend struct {
	BackendName string
	Rows        []gdelt.Row
	Err         error

	mu    sync.Mutex
	calls []Call
}

// Call records the arguments of one Query.
type Call struct {
	Filter  gdelt.Filter
	Kind    gdelt.Kind
	Options query.Options
}

// Name implements query.Backend.
func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "mock"
	}
	return b.BackendName
}

// Query implements query.Backend. Options.Limit is honored.
func (b *Backend) Query(ctx context.Context, f gdelt.Filter, kind gdelt.Kind, opts query.Options) (query.RowSource, error) {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Filter: f, Kind: kind, Options: opts})
	b.mu.Unlock()
	if b.Err != nil {
		return nil, b.Err
	}
	rows := b.Rows
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return query.NewSliceRows(rows...), nil
}

// Calls returns the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}
