// Package mongodb provides a MongoDB-backed implementation of the storage.Store interface.
//
// Every storage collection maps to a Mongo collection of the same name. The
// document ID is the Mongo _id and every write bumps the integer _v field,
// which transactions compare at commit the same way the SQLite store does.
// Multi-document transactions need a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mmynk/duoledger/internal/storage"
)

const (
	idField      = "_id"
	versionField = "_v"

	connectTimeout = 10 * time.Second
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// indexes back the equality queries issued by the ledger and the erasure engine.
var indexes = map[string][]mongo.IndexModel{
	storage.CollectionTransactions: {
		{Keys: bson.D{{Key: "senderUid", Value: 1}, {Key: "receiverUid", Value: 1}}},
		{Keys: bson.D{{Key: "receiverUid", Value: 1}}},
	},
	storage.CollectionSettlements: {
		{Keys: bson.D{{Key: "payerUid", Value: 1}}},
		{Keys: bson.D{{Key: "receiverUid", Value: 1}}},
	},
	storage.CollectionSettlementRequests: {
		{Keys: bson.D{{Key: "senderUid", Value: 1}, {Key: "receiverUid", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "receiverUid", Value: 1}}},
	},
	storage.CollectionPartnerRequests: {
		{Keys: bson.D{{Key: "fromUid", Value: 1}}},
		{Keys: bson.D{{Key: "toUid", Value: 1}}},
	},
	storage.CollectionIdentities: {
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
}

// Open connects to uri, verifies the connection and ensures the indexes of database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database)}
	for collection, models := range indexes {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) coll(ref storage.Ref) *mongo.Collection {
	return s.db.Collection(ref.Collection)
}

// Get retrieves a document by reference.
func (s *Store) Get(ctx context.Context, ref storage.Ref) (*storage.Document, error) {
	doc, _, err := s.getDoc(ctx, ref)
	return doc, err
}

// Query returns every document matching the equality filters, ordered by ID.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]*storage.Document, error) {
	docs, _, err := s.queryDocs(ctx, q)
	return docs, err
}

// Create persists a new document.
func (s *Store) Create(ctx context.Context, ref storage.Ref, fields storage.Fields) error {
	return s.create(ctx, ref, fields)
}

// Set creates or overwrites a document.
func (s *Store) Set(ctx context.Context, ref storage.Ref, fields storage.Fields) error {
	_, err := s.coll(ref).UpdateOne(ctx, byID(ref), setPipeline(ref, fields), options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", ref, err)
	}
	return nil
}

// Update applies a partial update to an existing document.
func (s *Store) Update(ctx context.Context, ref storage.Ref, u storage.Update) error {
	return s.update(ctx, ref, u, false)
}

// Delete removes a document if present.
func (s *Store) Delete(ctx context.Context, ref storage.Ref) error {
	if _, err := s.coll(ref).DeleteOne(ctx, byID(ref)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return nil
}

func (s *Store) getDoc(ctx context.Context, ref storage.Ref) (*storage.Document, int64, error) {
	var raw bson.M
	err := s.coll(ref).FindOne(ctx, byID(ref)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %s: %w", ref, err)
	}
	fields, version := decode(raw)
	return &storage.Document{Ref: ref, Fields: fields}, version, nil
}

func (s *Store) queryDocs(ctx context.Context, q storage.Query) ([]*storage.Document, []int64, error) {
	if err := q.Validate(); err != nil {
		return nil, nil, err
	}

	filter := bson.D{}
	for _, f := range q.Where {
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}
	opts := options.Find().SetSort(bson.D{{Key: idField, Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(q.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var (
		docs     []*storage.Document
		versions []int64
	)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, nil, fmt.Errorf("failed to decode document: %w", err)
		}
		id, ok := raw[idField].(string)
		if !ok {
			return nil, nil, fmt.Errorf("document in %s has non-string _id %v", q.Collection, raw[idField])
		}
		fields, version := decode(raw)
		docs = append(docs, &storage.Document{Ref: storage.Doc(q.Collection, id), Fields: fields})
		versions = append(versions, version)
	}
	if err := cursor.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, versions, nil
}

func (s *Store) create(ctx context.Context, ref storage.Ref, fields storage.Fields) error {
	_, err := s.coll(ref).InsertOne(ctx, body(ref, fields, 1))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, ref)
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", ref, err)
	}
	return nil
}

// update applies u with native operators. With skipMissing an absent
// document is not an error.
func (s *Store) update(ctx context.Context, ref storage.Ref, u storage.Update, skipMissing bool) error {
	for _, doc := range updateDocs(u) {
		res, err := s.coll(ref).UpdateOne(ctx, byID(ref), doc)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", ref, err)
		}
		if res.MatchedCount == 0 {
			if skipMissing {
				return nil
			}
			return fmt.Errorf("%w: %s", storage.ErrNotFound, ref)
		}
	}
	return nil
}

func byID(ref storage.Ref) bson.D {
	return bson.D{{Key: idField, Value: ref.ID}}
}

// body builds the stored form of fields.
func body(ref storage.Ref, fields storage.Fields, version int64) bson.M {
	out := bson.M{}
	for k, v := range fields {
		out[k] = v
	}
	out[idField] = ref.ID
	out[versionField] = version
	return out
}

// setPipeline replaces the whole document while keeping its version counter.
// The fields are wrapped in $literal so string values starting with "$" are
// not read as field paths.
func setPipeline(ref storage.Ref, fields storage.Fields) mongo.Pipeline {
	values := bson.M{}
	for k, v := range fields {
		values[k] = v
	}
	nextVersion := bson.D{{Key: "$add", Value: bson.A{
		bson.D{{Key: "$ifNull", Value: bson.A{"$" + versionField, 0}}},
		1,
	}}}
	return mongo.Pipeline{
		{{Key: "$replaceWith", Value: bson.D{{Key: "$mergeObjects", Value: bson.A{
			bson.D{{Key: "$literal", Value: values}},
			bson.D{{Key: idField, Value: ref.ID}, {Key: versionField, Value: nextVersion}},
		}}}}},
	}
}

// updateDocs translates u into update documents. Mongo rejects $addToSet and
// $pull on the same path in one update, so removals go in a second document.
func updateDocs(u storage.Update) []bson.D {
	first := bson.D{{Key: "$inc", Value: bson.D{{Key: versionField, Value: 1}}}}
	if len(u.Set) > 0 {
		set := bson.D{}
		for k, v := range u.Set {
			set = append(set, bson.E{Key: k, Value: v})
		}
		first = append(first, bson.E{Key: "$set", Value: set})
	}
	if len(u.ArrayUnion) > 0 {
		union := bson.D{}
		for field, values := range u.ArrayUnion {
			union = append(union, bson.E{Key: field, Value: bson.D{{Key: "$each", Value: values}}})
		}
		first = append(first, bson.E{Key: "$addToSet", Value: union})
	}
	docs := []bson.D{first}

	if len(u.ArrayRemove) > 0 {
		pull := bson.D{}
		for field, values := range u.ArrayRemove {
			pull = append(pull, bson.E{Key: field, Value: bson.D{{Key: "$in", Value: values}}})
		}
		docs = append(docs, bson.D{
			{Key: "$pull", Value: pull},
			{Key: "$inc", Value: bson.D{{Key: versionField, Value: 1}}},
		})
	}
	return docs
}

// decode strips the bookkeeping fields and normalizes BSON container types.
func decode(raw bson.M) (storage.Fields, int64) {
	var version int64
	switch v := raw[versionField].(type) {
	case int64:
		version = v
	case int32:
		version = int64(v)
	case float64:
		version = int64(v)
	}

	fields := make(storage.Fields, len(raw))
	for k, v := range raw {
		if k == idField || k == versionField {
			continue
		}
		fields[k] = normalize(v)
	}
	return fields, version
}

func normalize(v any) any {
	switch val := v.(type) {
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.DateTime:
		return int64(val)
	default:
		return v
	}
}
