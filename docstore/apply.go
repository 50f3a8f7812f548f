package docstore

import "context"

// buildWriteSpecs turns the accepted outcomes into write specs, preserving
// their relative order.
func buildWriteSpecs(outcomes []Outcome) ([]WriteSpec, error) {
	specs := make([]WriteSpec, 0, len(outcomes))
	for i, o := range outcomes {
		if !o.Accepted() {
			continue
		}
		var spec WriteSpec
		switch o.Kind {
		case OutcomeInsertNew:
			spec = WriteSpec{Kind: WriteInsert, Doc: o.Doc}
		case OutcomeInsertFresh:
			spec = WriteSpec{Kind: WriteInsertIfAbsent, ID: o.ID, Doc: o.Doc}
		case OutcomeReplace:
			spec = WriteSpec{Kind: WriteReplaceIfVersion, ID: o.ID, Doc: o.Doc, Baseline: o.Baseline}
		default:
			return nil, consistencyErrorf("outcome %d has unexpected kind %d", i, o.Kind)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Apply issues one conditional write per accepted outcome in a single call
// to the store. It is the only stage that mutates persistent state.
func Apply(ctx context.Context, store Store, collection string, outcomes []Outcome) ([]WriteResult, error) {
	specs, err := buildWriteSpecs(outcomes)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}

	results, err := store.BatchConditionalWrite(ctx, collection, specs)
	if err != nil {
		return nil, storeError("conditional write", err)
	}
	if len(results) != len(specs) {
		return nil, consistencyErrorf("store returned %d results for %d writes", len(results), len(specs))
	}
	for i, res := range results {
		if res.Err == nil && res.Change.New == nil {
			return nil, consistencyErrorf("write %d (%s) succeeded without a new value", i, specs[i].Kind)
		}
	}
	return results, nil
}
