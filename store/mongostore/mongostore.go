// Package mongostore keeps the submission corpus in a MongoDB collection.
package mongostore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	designcheck "github.com/anatolykoptev/go-designcheck"
	"github.com/anatolykoptev/go-designcheck/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "design_records"

// recordDoc is the stored shape of a store.Record.
type recordDoc struct {
	RecordID     string    `bson:"recordId"`
	OwnerID      string    `bson:"ownerId"`
	Status       string    `bson:"status"`
	Fingerprints []fpDoc   `bson:"fingerprints"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

type fpDoc struct {
	Value     string `bson:"value"`
	Algorithm string `bson:"algorithm,omitempty"`
}

// Store is a store.Store backed by a MongoDB collection.
type Store struct {
	client     *mongo.Client // nil when the caller owns the connection
	collection *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Connect dials uri, verifies the connection and ensures indexes.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	s := &Store{client: client, collection: client.Database(database).Collection(collection)}
	if err := s.CreateIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: create indexes: %w", err)
	}
	return s, nil
}

// New wraps an existing collection. Close does not disconnect its client.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// CreateIndexes creates the record id, owner and status indexes.
func (s *Store) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "recordId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return err
	}
	slog.Debug("mongostore: indexes ensured", "collection", s.collection.Name())
	return nil
}

// Close disconnects the client opened by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.collection.Database().Client().Ping(ctx, nil)
}

// Put upserts rec by record id. CreatedAt is kept from the first insert.
func (s *Store) Put(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := toDoc(rec)
	update := bson.M{
		"$set": bson.M{
			"ownerId":      doc.OwnerID,
			"status":       doc.Status,
			"fingerprints": doc.Fingerprints,
			"updatedAt":    now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}

	_, err := s.collection.UpdateOne(ctx, bson.M{"recordId": rec.RecordID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: upsert %s: %w", rec.RecordID, err)
	}
	return nil
}

// CorpusEntries returns the records matching filter, oldest first. Records
// whose stored fingerprints cannot be parsed are skipped with a warning.
func (s *Store) CorpusEntries(ctx context.Context, filter designcheck.CorpusFilter) ([]designcheck.CorpusEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.collection.Find(ctx, corpusFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: query corpus: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: read corpus: %w", err)
	}

	out := make([]designcheck.CorpusEntry, 0, len(docs))
	for _, d := range docs {
		rec, err := fromDoc(d)
		if err != nil {
			slog.Warn("mongostore: skipping record with malformed fingerprint",
				"record", d.RecordID, "error", err.Error())
			continue
		}
		if len(rec.Fingerprints) == 0 {
			continue
		}
		out = append(out, rec.Entry())
	}
	return out, nil
}

// corpusFilter translates a CorpusFilter into a query document.
func corpusFilter(f designcheck.CorpusFilter) bson.D {
	q := bson.D{}
	if f.OwnerID != "" {
		q = append(q, bson.E{Key: "ownerId", Value: f.OwnerID})
	}
	if len(f.Statuses) > 0 {
		q = append(q, bson.E{Key: "status", Value: bson.M{"$in": f.Statuses}})
	}
	if f.ExcludeRecordID != "" {
		q = append(q, bson.E{Key: "recordId", Value: bson.M{"$ne": f.ExcludeRecordID}})
	}
	return q
}

func toDoc(rec store.Record) recordDoc {
	d := recordDoc{RecordID: rec.RecordID, OwnerID: rec.OwnerID, Status: rec.Status}
	for _, fp := range rec.Fingerprints {
		fd := fpDoc{Value: fp.String()}
		if fp.Algorithm() != designcheck.AlgorithmUnspecified {
			fd.Algorithm = fp.Algorithm().String()
		}
		d.Fingerprints = append(d.Fingerprints, fd)
	}
	return d
}

func fromDoc(d recordDoc) (store.Record, error) {
	rec := store.Record{RecordID: d.RecordID, OwnerID: d.OwnerID, Status: d.Status}
	for i, fd := range d.Fingerprints {
		fp, err := store.DecodeFingerprint(fd.Value, fd.Algorithm)
		if err != nil {
			return store.Record{}, fmt.Errorf("fingerprint %d: %w", i, err)
		}
		rec.Fingerprints = append(rec.Fingerprints, fp)
	}
	return rec, nil
}
