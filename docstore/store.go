package docstore

import "context"

// WriteKind tags the condition/action pair a store evaluates atomically.
type WriteKind int

const (
	// WriteInsert inserts under a freshly generated id at version 0.
	WriteInsert WriteKind = iota
	// WriteInsertIfAbsent inserts at version 0 only if nothing is stored
	// under ID when the write executes.
	WriteInsertIfAbsent
	// WriteReplaceIfVersion merges Doc onto the stored document and bumps its
	// version, only if the stored defaulted version equals Baseline when the
	// write executes.
	WriteReplaceIfVersion
)

func (k WriteKind) String() string {
	switch k {
	case WriteInsert:
		return "insert"
	case WriteInsertIfAbsent:
		return "insert_if_absent"
	case WriteReplaceIfVersion:
		return "replace_if_version"
	default:
		return "unknown"
	}
}

// WriteSpec is a conditional write passed to the store as data.
type WriteSpec struct {
	Kind     WriteKind
	ID       string
	Doc      Document
	Baseline int64
}

// Change is the before/after image of a successful write. Old is nil for
// inserts.
type Change struct {
	Old Document
	New Document
}

// WriteResult is the per-document outcome of a conditional write. Err is
// ErrInvalidated when the write-time condition did not hold.
type WriteResult struct {
	Change Change
	Err    error
}

// Store abstracts the document engine. Implementations must evaluate each
// WriteSpec's condition and mutation as one atomic step on the server side;
// the condition must never be trusted from an earlier read.
type Store interface {
	// Fetch returns the stored documents for ids, aligned by index, with nil
	// for ids that have no document. It is a single round trip.
	Fetch(ctx context.Context, collection string, ids []string) ([]Document, error)

	// BatchConditionalWrite executes specs and returns one result per spec
	// in the same order. A non-nil error means the round trip failed.
	BatchConditionalWrite(ctx context.Context, collection string, specs []WriteSpec) ([]WriteResult, error)

	// Get returns a single document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
}

// evalWrite applies spec against current, the document stored at write
// time. It is shared by stores that evaluate conditions in-process under
// their own lock.
func evalWrite(spec WriteSpec, id string, current Document) (Change, error) {
	switch spec.Kind {
	case WriteInsert, WriteInsertIfAbsent:
		if current != nil {
			return Change{}, ErrInvalidated
		}
		doc := WithVersion(spec.Doc, 0)
		doc[IDField] = id
		return Change{New: doc}, nil
	case WriteReplaceIfVersion:
		if current == nil {
			return Change{}, ErrInvalidated
		}
		stored := DefaultedVersion(current)
		if stored != spec.Baseline {
			return Change{}, ErrInvalidated
		}
		doc := WithVersion(Merge(current, spec.Doc), NextVersion(stored))
		doc[IDField] = id
		return Change{Old: current, New: doc}, nil
	default:
		return Change{}, consistencyErrorf("unknown write kind %d", spec.Kind)
	}
}
