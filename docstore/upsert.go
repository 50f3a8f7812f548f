// upsert.go defines the Upserter, which drives one upsert request through
// the protocol stages.
//
// System fit:
//
//   - A request makes one Store.Fetch for every candidate carrying an id, then
//     at most one Store.BatchConditionalWrite for the accepted documents.
//     Nothing is retried: a document that loses a race is reported as
//     ErrInvalidated and the client decides what to do.
//   - Classification runs between the two round trips and is pure. The
//     versions it reads may be stale by the time the write lands; the store
//     re-checks every condition atomically per document.
//
// Stages:
//
//   - validate: collection name and candidate shape.
//   - fetch: stored documents aligned with the candidates.
//   - Classify, Apply, Assemble: see classify.go, apply.go and response.go.

package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Upserter runs the versioned upsert protocol against a Store. It holds no
// mutable state and is safe for concurrent use; concurrency control is left
// to the store's conditional writes.
type Upserter struct {
	Store      Store
	Authorizer Authorizer
	Metrics    AppMetrics
	Logger     *slog.Logger
}

// UpserterOption configures Upserter instances.
type UpserterOption func(*Upserter)

// WithAuthorizer sets the authorizer consulted for every document.
func WithAuthorizer(a Authorizer) UpserterOption {
	return func(u *Upserter) {
		u.Authorizer = a
	}
}

// WithAppMetrics sets the metrics sink.
func WithAppMetrics(m AppMetrics) UpserterOption {
	return func(u *Upserter) {
		if m != nil {
			u.Metrics = m
		}
	}
}

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) UpserterOption {
	return func(u *Upserter) {
		if l != nil {
			u.Logger = l
		}
	}
}

// NewUpserter creates an Upserter. Without WithAuthorizer every write is
// allowed.
func NewUpserter(store Store, opts ...UpserterOption) *Upserter {
	u := &Upserter{
		Store:      store,
		Authorizer: AllowAll{},
		Metrics:    NoopAppMetrics{},
		Logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upsert inserts or merges candidates into collection. The returned slice has
// one Result per candidate in input order; per-document rejections are
// reported there. A non-nil error aborts the whole request: a *StoreError
// when a store round trip failed, a *ConsistencyError on an internal defect,
// or ErrInvalidCollection / ErrInvalidDocument for malformed input.
func (u *Upserter) Upsert(ctx context.Context, caller Caller, collection string, candidates []Document) ([]Result, error) {
	start := time.Now()
	results, err := u.upsert(ctx, caller, collection, candidates)
	latencyMS := time.Since(start).Milliseconds()

	counts := CountResults(results)
	counts.Documents = len(candidates)
	u.metrics().RecordUpsert(collection, latencyMS, counts, err)

	if err != nil {
		attrs := []any{
			"collection", collection,
			"documents", len(candidates),
			"error", err,
		}
		var ce *ConsistencyError
		if errors.As(err, &ce) {
			u.logger().ErrorContext(ctx, "upsert consistency failure", attrs...)
		} else {
			u.logger().WarnContext(ctx, "upsert aborted", attrs...)
		}
		return nil, err
	}

	u.logger().InfoContext(ctx, "upsert completed",
		"collection", collection,
		"documents", counts.Documents,
		"written", counts.Written,
		"unauthorized", counts.Unauthorized,
		"invalidated", counts.Invalidated,
		"latency_ms", latencyMS,
	)
	return results, nil
}

func (u *Upserter) upsert(ctx context.Context, caller Caller, collection string, candidates []Document) ([]Result, error) {
	if u.Store == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	for i, doc := range candidates {
		if err := validateCandidate(i, doc); err != nil {
			return nil, err
		}
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	olds, err := u.fetch(ctx, collection, candidates)
	if err != nil {
		return nil, err
	}

	outcomes, err := Classify(ctx, caller, candidates, olds, u.Authorizer)
	if err != nil {
		return nil, err
	}

	writes, err := Apply(ctx, u.Store, collection, outcomes)
	if err != nil {
		return nil, err
	}

	return Assemble(outcomes, writes)
}

// fetch reads the stored document of every candidate carrying an id in one
// round trip and aligns the result with candidates.
func (u *Upserter) fetch(ctx context.Context, collection string, candidates []Document) ([]Document, error) {
	ids := make([]string, 0, len(candidates))
	positions := make([]int, 0, len(candidates))
	for i, doc := range candidates {
		if id, ok := doc.ID(); ok {
			ids = append(ids, id)
			positions = append(positions, i)
		}
	}

	olds := make([]Document, len(candidates))
	if len(ids) == 0 {
		return olds, nil
	}

	fetched, err := u.Store.Fetch(ctx, collection, ids)
	if err != nil {
		return nil, storeError("fetch", err)
	}
	if len(fetched) != len(ids) {
		return nil, consistencyErrorf("store returned %d documents for %d ids", len(fetched), len(ids))
	}
	for j, pos := range positions {
		olds[pos] = fetched[j]
	}
	return olds, nil
}

// Get reads a single document.
func (u *Upserter) Get(ctx context.Context, collection, id string) (Document, error) {
	if u.Store == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	doc, err := u.Store.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storeError("get", err)
	}
	return doc, nil
}

func (u *Upserter) metrics() AppMetrics {
	if u.Metrics == nil {
		return NoopAppMetrics{}
	}
	return u.Metrics
}

func (u *Upserter) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}
