package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/oicur0t/loglwatch/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	historyDocID  = "restart_history"
	snapshotDocID = "health_snapshots"
)

var invalidCollectionChars = regexp.MustCompile(`[^a-z0-9_]`)

// historyDocument holds the whole restart history in one document so a
// replace is atomic
type historyDocument struct {
	ID        string                `bson:"_id"`
	Services  models.RestartHistory `bson:"services"`
	UpdatedAt time.Time             `bson:"updated_at"`
}

type snapshotDocument struct {
	ID        string           `bson:"_id"`
	Services  models.Snapshots `bson:"services"`
	UpdatedAt time.Time        `bson:"updated_at"`
}

// MongoStore keeps state in a single MongoDB collection
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *zap.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection
func NewMongoStore(ctx context.Context, uri, database, collectionPrefix, certKeyFile string, maxPoolSize int, timeout time.Duration, logger *zap.Logger) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongodb uri is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// If certificate key file is provided, use X.509 authentication
	if certKeyFile != "" {
		if strings.Contains(uri, "?") {
			uri = uri + "&tlsCertificateKeyFile=" + certKeyFile
		} else {
			uri = uri + "?tlsCertificateKeyFile=" + certKeyFile
		}
	}

	clientOpts := options.Client().ApplyURI(uri)
	if maxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(uint64(maxPoolSize))
	}
	if certKeyFile != "" {
		clientOpts.SetAuth(options.Credential{
			AuthMechanism: "MONGODB-X509",
		})
	}

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, persistErr("connect to MongoDB", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, persistErr("ping MongoDB", err)
	}

	collName := collectionName(collectionPrefix, "state")
	logger.Info("Connected to MongoDB",
		zap.String("database", database),
		zap.String("collection", collName),
		zap.Int("max_pool_size", maxPoolSize))

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collName),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// LoadHistory reads the restart history document
func (s *MongoStore) LoadHistory(ctx context.Context) (models.RestartHistory, error) {
	var doc historyDocument
	found, err := s.findOne(ctx, historyDocID, &doc)
	if err != nil {
		return nil, persistErr("load restart history", err)
	}
	if !found || doc.Services == nil {
		return make(models.RestartHistory), nil
	}
	return doc.Services, nil
}

// SaveHistory replaces the restart history document
func (s *MongoStore) SaveHistory(ctx context.Context, history models.RestartHistory) error {
	doc := historyDocument{ID: historyDocID, Services: history, UpdatedAt: time.Now().UTC()}
	if err := s.replaceOne(ctx, historyDocID, doc); err != nil {
		return persistErr("save restart history", err)
	}
	return nil
}

// LoadSnapshots reads the snapshot document
func (s *MongoStore) LoadSnapshots(ctx context.Context) (models.Snapshots, error) {
	var doc snapshotDocument
	found, err := s.findOne(ctx, snapshotDocID, &doc)
	if err != nil {
		return nil, persistErr("load snapshots", err)
	}
	if !found || doc.Services == nil {
		return make(models.Snapshots), nil
	}
	return doc.Services, nil
}

// SaveSnapshots replaces the snapshot document
func (s *MongoStore) SaveSnapshots(ctx context.Context, snapshots models.Snapshots) error {
	doc := snapshotDocument{ID: snapshotDocID, Services: snapshots, UpdatedAt: time.Now().UTC()}
	if err := s.replaceOne(ctx, snapshotDocID, doc); err != nil {
		return persistErr("save snapshots", err)
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, id string, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MongoStore) replaceOne(ctx context.Context, id string, doc any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return err
	}
	s.logger.Debug("State document replaced", zap.String("id", id))
	return nil
}

// Close disconnects from MongoDB
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// collectionName builds a valid collection name from prefix and name
func collectionName(prefix, name string) string {
	name = strings.ToLower(name)
	name = invalidCollectionChars.ReplaceAllString(name, "_")
	return prefix + name
}
