/*
Package mongo provides the remote multi-device profile store.

PURPOSE:
  One document per member in a profiles collection. ReplaceOne with an
  {_id, version} filter gives the conditional single-document write the
  engine's contract requires; a change stream feeds Subscribe so every
  device observing a member sees committed writes from every other device.

CONSISTENCY:
  A successful Put is immediately visible to a subsequent Get from the
  same caller (primary reads). Subscription delivery is asynchronous and
  out-of-band from any writer - observers must treat it as best-effort
  push, never as a write acknowledgment.

SEE ALSO:
  - ledger/store.go: Contract this implements
  - realtime/projector.go: The Subscribe consumer
*/
package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/warp/loyalty-engine/ledger"
)

// Config holds connection settings for the remote store.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store implements ledger.WatchableStore over a MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	log        *logrus.Logger
}

// New connects and pings the deployment before returning.
func New(cfg Config, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &Store{
		client:     client,
		collection: client.Database(cfg.Database).Collection("profiles"),
		log:        log,
	}, nil
}

// Database exposes the underlying database so sibling collections (the
// reward catalog) can share one connection.
func (s *Store) Database() *mongo.Database {
	return s.collection.Database()
}

// Close disconnects from the deployment.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) Get(ctx context.Context, id ledger.MemberID) (*ledger.Profile, error) {
	var p ledger.Profile
	err := s.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return &p, nil
}

// Put is a conditional replace: version 1 inserts, version n replaces the
// document only while it still carries version n-1. A filter miss means a
// concurrent writer won and surfaces as ledger.ErrConflict.
func (s *Store) Put(ctx context.Context, p *ledger.Profile) error {
	if p.Version == 1 {
		_, err := s.collection.InsertOne(ctx, p)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ledger.ErrConflict
			}
			return fmt.Errorf("put profile %s: %w", p.ID, err)
		}
		return nil
	}

	res, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": string(p.ID), "version": p.Version - 1}, p)
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.ID, err)
	}
	if res.MatchedCount == 0 {
		return ledger.ErrConflict
	}
	return nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe opens a change stream filtered to the member's document and
// delivers the full post-image of every committed write. The stream is
// closed by cancelling via the returned function; a server-side break
// logs and ends delivery.
func (s *Store) Subscribe(ctx context.Context, id ledger.MemberID, fn func(*ledger.Profile)) (func(), error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"documentKey._id": string(id)}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := s.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(cancel)
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			var change struct {
				FullDocument *ledger.Profile `bson:"fullDocument"`
			}
			if err := stream.Decode(&change); err != nil {
				s.log.WithError(err).WithField("member", id).Warn("change decode failed")
				continue
			}
			if change.FullDocument != nil {
				fn(change.FullDocument)
			}
		}
		if err := stream.Err(); err != nil && watchCtx.Err() == nil {
			s.log.WithError(err).WithField("member", id).Warn("profile change stream ended")
		}
	}()

	return stop, nil
}

// ListMembers supports the background sweeper.
func (s *Store) ListMembers(ctx context.Context) ([]ledger.MemberID, error) {
	cursor, err := s.collection.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []ledger.MemberID
	for cursor.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.MemberID(row.ID))
	}
	return ids, cursor.Err()
}

var (
	_ ledger.WatchableStore = (*Store)(nil)
	_ ledger.MemberLister   = (*Store)(nil)
)
