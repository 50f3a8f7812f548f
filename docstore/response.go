package docstore

import "fmt"

// Result is the response record for one candidate. Err is nil on success,
// in which case ID and Version describe the written document.
type Result struct {
	ID      string
	Version int64
	Err     error
}

// Assemble interleaves classification rejections with apply results back
// into input order.
func Assemble(outcomes []Outcome, results []WriteResult) ([]Result, error) {
	out := make([]Result, len(outcomes))
	next := 0
	for i, o := range outcomes {
		if !o.Accepted() {
			out[i] = Result{ID: o.ID, Err: o.Err()}
			continue
		}
		if next >= len(results) {
			return nil, consistencyErrorf("ran out of write results at candidate %d (%d results)", i, len(results))
		}
		res := results[next]
		next++
		if res.Err != nil {
			out[i] = Result{ID: o.ID, Err: res.Err}
			continue
		}
		id, _ := res.Change.New.ID()
		out[i] = Result{ID: id, Version: DefaultedVersion(res.Change.New)}
	}
	if next != len(results) {
		return nil, consistencyErrorf("consumed %d of %d write results", next, len(results))
	}
	return out, nil
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.ID, r.Err)
	}
	return fmt.Sprintf("%s@%d", r.ID, r.Version)
}
