package checkpoint

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/BaSui01/pipeflow/state"
)

// DefaultCollection is the collection used by MongoStore unless configured otherwise.
const DefaultCollection = "checkpoints"

type mongoDocument struct {
	RunID     string    `bson:"_id"`
	GraphID   string    `bson:"graph_id"`
	Status    string    `bson:"status"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per run keyed by run id.
type MongoStore struct {
	coll *mongo.Collection
	enc  *Encoder
}

// NewMongoStore wraps a collection.
func NewMongoStore(coll *mongo.Collection, codec Codec) (*MongoStore, error) {
	enc, err := NewEncoder(codec)
	if err != nil {
		return nil, err
	}
	return &MongoStore{coll: coll, enc: enc}, nil
}

func (s *MongoStore) Save(ctx context.Context, runID string, rs *state.RunState) error {
	if err := validate(runID, rs); err != nil {
		return err
	}
	b, err := s.enc.Encode(rs)
	if err != nil {
		return storageErr("save", runID, err)
	}
	doc := mongoDocument{
		RunID:     runID,
		GraphID:   rs.GraphID,
		Status:    string(rs.Status),
		Data:      b,
		UpdatedAt: time.Now().UTC(),
	}
	_, err = s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: runID}}, doc, options.Replace().SetUpsert(true))
	return storageErr("save", runID, err)
}

func (s *MongoStore) Load(ctx context.Context, runID string) (*state.RunState, error) {
	var doc mongoDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: runID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storageErr("load", runID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	rs, err := s.enc.Decode(doc.Data)
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	return rs, nil
}

func (s *MongoStore) Delete(ctx context.Context, runID string) error {
	_, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: runID}})
	return storageErr("delete", runID, err)
}

func (s *MongoStore) List(ctx context.Context) ([]string, error) {
	cur, err := s.coll.Find(ctx, bson.D{}, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, storageErr("list", "", err)
	}
	var rows []struct {
		RunID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storageErr("list", "", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.RunID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close does not disconnect the shared client.
func (s *MongoStore) Close() error { return nil }
