package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoVersionField stores VersionField; Mongo filters cannot address
// field names starting with '$'.
const mongoVersionField = "_hz_v"

// MongoStore implements Store with one Mongo collection per document
// collection. The caller owns the mongo.Client lifecycle.
//
// Each write is a single server-side conditional command: inserts rely on
// the unique _id index, replaces filter on _id and the expected version. The
// driver's bulk API reports matched counts for the whole batch only, so the
// writes of one batch are issued as individual commands.
type MongoStore struct {
	Database *mongo.Database
}

// NewMongoStore creates a MongoStore from a *mongo.Database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{Database: db}
}

func (s *MongoStore) Fetch(ctx context.Context, collection string, ids []string) ([]Document, error) {
	out := make([]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cursor, err := s.Database.Collection(collection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	byID := make(map[string]Document, len(rows))
	for _, row := range rows {
		doc := fromMongo(row)
		if id, ok := doc.ID(); ok {
			byID[id] = doc
		}
	}
	for i, id := range ids {
		if doc, ok := byID[id]; ok {
			out[i] = doc.Clone()
		}
	}
	return out, nil
}

func (s *MongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var row bson.M
	err := s.Database.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&row)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromMongo(row), nil
}

func (s *MongoStore) BatchConditionalWrite(ctx context.Context, collection string, specs []WriteSpec) ([]WriteResult, error) {
	coll := s.Database.Collection(collection)
	results := make([]WriteResult, len(specs))
	for i, spec := range specs {
		var (
			res WriteResult
			err error
		)
		switch spec.Kind {
		case WriteInsert:
			res, err = s.insert(ctx, coll, uuid.NewString(), spec.Doc)
		case WriteInsertIfAbsent:
			res, err = s.insert(ctx, coll, spec.ID, spec.Doc)
		case WriteReplaceIfVersion:
			res, err = s.replaceIfVersion(ctx, coll, spec)
		default:
			return nil, consistencyErrorf("unknown write kind %d", spec.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("write %d (%s): %w", i, spec.Kind, err)
		}
		results[i] = res
	}
	return results, nil
}

func (s *MongoStore) insert(ctx context.Context, coll *mongo.Collection, id string, doc Document) (WriteResult, error) {
	written := WithVersion(doc, 0)
	written[IDField] = id
	if _, err := coll.InsertOne(ctx, toMongo(written)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return WriteResult{Err: ErrInvalidated}, nil
		}
		return WriteResult{}, err
	}
	return WriteResult{Change: Change{New: written}}, nil
}

func (s *MongoStore) replaceIfVersion(ctx context.Context, coll *mongo.Collection, spec WriteSpec) (WriteResult, error) {
	filter := bson.D{{Key: "_id", Value: spec.ID}}
	if spec.Baseline < 0 {
		// Matches what DefaultedVersion reads as -1: no version, null, or a
		// value that is not a number.
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.M{mongoVersionField: bson.M{"$exists": false}},
			bson.M{mongoVersionField: bson.M{"$not": bson.M{"$type": "number"}}},
		}})
	} else {
		filter = append(filter, bson.E{Key: mongoVersionField, Value: spec.Baseline})
	}

	set := bson.M{}
	for k, v := range toMongo(spec.Doc) {
		if k == "_id" {
			continue
		}
		set[k] = v
	}
	set[mongoVersionField] = NextVersion(spec.Baseline)

	var before bson.M
	err := coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return WriteResult{Err: ErrInvalidated}, nil
		}
		return WriteResult{}, err
	}

	old := fromMongo(before)
	written := WithVersion(Merge(old, spec.Doc), NextVersion(spec.Baseline))
	written[IDField] = spec.ID
	return WriteResult{Change: Change{Old: old, New: written}}, nil
}

func toMongo(doc Document) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		switch k {
		case IDField:
			out["_id"] = v
		case VersionField:
			out[mongoVersionField] = v
		default:
			out[k] = v
		}
	}
	return out
}

func fromMongo(row bson.M) Document {
	out := make(Document, len(row))
	for k, v := range row {
		switch k {
		case "_id":
			if id, ok := v.(string); ok {
				out[IDField] = id
			} else {
				out[IDField] = strings.TrimSpace(fmt.Sprint(v))
			}
		case mongoVersionField:
			if n, ok := toVersion(v); ok {
				out[VersionField] = n
			} else {
				out[VersionField] = v
			}
		default:
			out[k] = v
		}
	}
	return out
}
