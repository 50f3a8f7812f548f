package docstore

import "context"

// OutcomeKind is the classification of one candidate.
type OutcomeKind int

const (
	// OutcomeInsertNew: the candidate has no id and is inserted under a
	// generated one.
	OutcomeInsertNew OutcomeKind = iota
	// OutcomeInsertFresh: the candidate has an id and nothing was stored.
	OutcomeInsertFresh
	// OutcomeReplace: the candidate is merged onto a stored document.
	OutcomeReplace
	OutcomeUnauthorized
	OutcomeStale
)

// Outcome is the classifier's decision for one candidate.
type Outcome struct {
	Kind OutcomeKind
	ID   string
	// Doc is the candidate as submitted; the store merges it onto whatever
	// is stored at write time.
	Doc Document
	// Baseline is the version the replace is conditioned on.
	Baseline int64
}

// Accepted reports whether the outcome proceeds to the apply stage.
func (o Outcome) Accepted() bool {
	switch o.Kind {
	case OutcomeInsertNew, OutcomeInsertFresh, OutcomeReplace:
		return true
	default:
		return false
	}
}

// Err returns the per-document error of a rejected outcome.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeUnauthorized:
		return ErrUnauthorized
	case OutcomeStale:
		return ErrInvalidated
	default:
		return nil
	}
}

// Classify pairs every candidate with its stored document and decides
// whether it may be written. olds must be aligned with candidates, holding
// nil where nothing is stored or the candidate has no id. Classify has no
// side effects.
func Classify(ctx context.Context, caller Caller, candidates, olds []Document, authz Authorizer) ([]Outcome, error) {
	if len(olds) != len(candidates) {
		return nil, consistencyErrorf("fetched %d documents for %d candidates", len(olds), len(candidates))
	}
	if authz == nil {
		authz = DenyAll{}
	}

	outcomes := make([]Outcome, len(candidates))
	for i, candidate := range candidates {
		outcomes[i] = classifyOne(ctx, caller, candidate, olds[i], authz)
	}
	return outcomes, nil
}

func classifyOne(ctx context.Context, caller Caller, candidate, old Document, authz Authorizer) Outcome {
	proposed := candidate
	if old != nil {
		proposed = Merge(old, candidate)
	}
	if !authz.Validate(ctx, caller, old, proposed) {
		return Outcome{Kind: OutcomeUnauthorized}
	}

	id, hasID := candidate.ID()
	if !hasID {
		return Outcome{Kind: OutcomeInsertNew, Doc: candidate}
	}

	expected, hasExpectation := ExpectedVersion(candidate)
	if old == nil {
		if hasExpectation {
			return Outcome{Kind: OutcomeStale, ID: id}
		}
		return Outcome{Kind: OutcomeInsertFresh, ID: id, Doc: candidate}
	}

	current := DefaultedVersion(old)
	if !hasExpectation {
		// Willing to overwrite whatever is stored; the write is still
		// conditioned on the version observed here.
		expected = current
	}
	if expected != current {
		return Outcome{Kind: OutcomeStale, ID: id}
	}
	return Outcome{Kind: OutcomeReplace, ID: id, Doc: candidate, Baseline: expected}
}
