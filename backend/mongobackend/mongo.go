// Package mongobackend implements a Backend over a MongoDB collection,
// storing one document per secret.
package mongobackend

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

const collectionName = "vaultkeeper_secrets"

type secretDocument struct {
	ID        string    `bson:"_id"`
	Secret    string    `bson:"secret"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Backend stores secrets as documents in a single MongoDB collection,
// keyed by the secret's id.
type Backend struct {
	collection *mongo.Collection
}

// Connect dials MongoDB at uri, pings it with a 5-second timeout, and
// returns a Backend bound to dbName's secrets collection with its
// index on updated_at already created.
func Connect(ctx context.Context, uri, dbName string) (*Backend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongobackend: connecting: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongobackend: ping failed: %w", err)
	}

	collection := client.Database(dbName).Collection(collectionName)
	return New(ctx, collection)
}

// New wraps an already-resolved collection as a Backend, ensuring its
// supporting index exists.
func New(ctx context.Context, collection *mongo.Collection) (*Backend, error) {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index(),
	}
	if _, err := collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("mongobackend: creating index: %w", err)
	}
	return &Backend{collection: collection}, nil
}

// Factory builds a Backend from options {"uri": string, "database": string}.
func Factory(options map[string]any) (backend.Backend, error) {
	uri, _ := options["uri"].(string)
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	dbName, _ := options["database"].(string)
	if dbName == "" {
		dbName = "vaultkeeper"
	}

	b, err := Connect(context.Background(), uri, dbName)
	if err != nil {
		return nil, &vaulterrors.Setup{Dependency: "mongo", Err: err}
	}
	return b, nil
}

func (b *Backend) Type() string        { return "mongo" }
func (b *Backend) DisplayName() string { return "MongoDB" }

func (b *Backend) IsAvailable(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return b.collection.Database().Client().Ping(pingCtx, nil) == nil
}

func (b *Backend) Store(ctx context.Context, id, secret string) error {
	doc := secretDocument{ID: id, Secret: secret, UpdatedAt: time.Now()}
	opts := options.Replace().SetUpsert(true)
	if _, err := b.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return fmt.Errorf("mongobackend: store: %w", err)
	}
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, id string) (string, error) {
	var doc secretDocument
	err := b.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	if err != nil {
		return "", fmt.Errorf("mongobackend: retrieve: %w", err)
	}
	return doc.Secret, nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	res, err := b.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongobackend: delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	n, err := b.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("mongobackend: exists: %w", err)
	}
	return n > 0, nil
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	cur, err := b.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("mongobackend: list: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc secretDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongobackend: decoding list entry: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongobackend: list: %w", err)
	}
	return ids, nil
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Listable = (*Backend)(nil)
