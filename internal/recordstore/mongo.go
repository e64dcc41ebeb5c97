package recordstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/jareynolds/UbeCode-sub002/internal/domain"
	"github.com/jareynolds/UbeCode-sub002/internal/log"
)

const recordCollection = "canvas_records"

// MongoStore keeps records as documents keyed by workspace, subfolder and
// name.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type recordDoc struct {
	Workspace string    `bson:"workspace"`
	Subfolder string    `bson:"subfolder"`
	Name      string    `bson:"name"`
	Content   string    `bson:"content,omitempty"`
	Data      []byte    `bson:"data,omitempty"`
	Metadata  []byte    `bson:"metadata,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// OpenMongo connects to uri and uses the records collection of database.
func OpenMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = "canvas"
	}
	log.WithComponent("recordstore").Info("connecting to mongo", slog.String("database", database))
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	coll := client.Database(database).Collection(recordCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "workspace", Value: 1}, {Key: "subfolder", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create record index: %w", err)
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func recordKey(workspacePath, subfolder, name string) bson.D {
	return bson.D{
		{Key: "workspace", Value: workspacePath},
		{Key: "subfolder", Value: folder(subfolder)},
		{Key: "name", Value: name},
	}
}

func (s *MongoStore) ListRecords(ctx context.Context, workspacePath, subfolder string) ([]domain.Record, error) {
	filter := bson.D{{Key: "workspace", Value: workspacePath}, {Key: "subfolder", Value: folder(subfolder)}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var docs []recordDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	records := make([]domain.Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, domain.Record{Name: d.Name, Content: d.Content, Data: d.Data, Metadata: d.Metadata})
	}
	return records, nil
}

func (s *MongoStore) WriteRecords(ctx context.Context, workspacePath, subfolder string, records []domain.Record) error {
	if err := validNames(records); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range records {
		doc := recordDoc{
			Workspace: workspacePath,
			Subfolder: folder(subfolder),
			Name:      r.Name,
			Content:   r.Content,
			Data:      r.Data,
			Metadata:  r.Metadata,
			UpdatedAt: now,
		}
		_, err := s.coll.ReplaceOne(ctx, recordKey(workspacePath, subfolder, r.Name), doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("write record %s: %w", r.Name, err)
		}
	}
	return nil
}

func (s *MongoStore) DeleteRecord(ctx context.Context, workspacePath, subfolder, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, recordKey(workspacePath, subfolder, name))
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
