/*
mongo.go - Collection-backed catalog with cache and change feed

PURPOSE:
  Production catalog: one document per reward in a rewards_catalog
  collection, a redis read-through cache in front of List, and a change
  stream that republishes the filtered list whenever the collection moves.

CACHING:
  List caches the raw item list under a single key with a short TTL; the
  change stream invalidates it. Cache errors degrade to a straight
  collection read - the cache is an optimization, never a dependency.
*/
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	listCacheKey = "catalog:rewards"
	listCacheTTL = 5 * time.Minute
)

// Mongo is a collection-backed catalog. The redis client may be nil, in
// which case every List hits the collection.
type Mongo struct {
	collection *mongo.Collection
	cache      *redis.Client
	log        *logrus.Logger
}

// NewMongo creates a catalog over db's rewards_catalog collection.
func NewMongo(db *mongo.Database, cache *redis.Client, log *logrus.Logger) *Mongo {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Mongo{
		collection: db.Collection("rewards_catalog"),
		cache:      cache,
		log:        log,
	}
}

func (m *Mongo) List(ctx context.Context) ([]RewardItem, error) {
	if items, ok := m.cachedList(ctx); ok {
		return FilterAvailable(items), nil
	}

	items, err := m.listFromCollection(ctx)
	if err != nil {
		return nil, err
	}

	m.storeList(ctx, items)
	return FilterAvailable(items), nil
}

func (m *Mongo) Get(ctx context.Context, id string) (*RewardItem, error) {
	var item RewardItem
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog get %s: %w", id, err)
	}
	return &item, nil
}

func (m *Mongo) listFromCollection(ctx context.Context) ([]RewardItem, error) {
	cursor, err := m.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"points_cost": 1}))
	if err != nil {
		return nil, fmt.Errorf("catalog list: %w", err)
	}
	defer cursor.Close(ctx)

	var items []RewardItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("catalog decode: %w", err)
	}
	return items, nil
}

// =============================================================================
// CACHE
// =============================================================================

func (m *Mongo) cachedList(ctx context.Context) ([]RewardItem, bool) {
	if m.cache == nil {
		return nil, false
	}
	data, err := m.cache.Get(ctx, listCacheKey).Result()
	if err != nil {
		if err != redis.Nil {
			m.log.WithError(err).Debug("catalog cache read failed")
		}
		return nil, false
	}
	var items []RewardItem
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, false
	}
	return items, true
}

func (m *Mongo) storeList(ctx context.Context, items []RewardItem) {
	if m.cache == nil {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, listCacheKey, data, listCacheTTL).Err(); err != nil {
		m.log.WithError(err).Debug("catalog cache write failed")
	}
}

func (m *Mongo) invalidate(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Del(ctx, listCacheKey).Err(); err != nil {
		m.log.WithError(err).Debug("catalog cache invalidation failed")
	}
}

// =============================================================================
// CHANGE FEED
// =============================================================================

// Watch opens a change stream on the collection and republishes the
// filtered offerable list after every change. Best-effort: a broken
// stream logs and ends the subscription; observers fall back to polling.
func (m *Mongo) Watch(ctx context.Context, fn func([]RewardItem)) (func(), error) {
	stream, err := m.collection.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("catalog watch: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
		})
	}

	go func() {
		defer stream.Close(context.Background())
		for stream.Next(watchCtx) {
			m.invalidate(watchCtx)
			items, err := m.listFromCollection(watchCtx)
			if err != nil {
				m.log.WithError(err).Warn("catalog refresh after change failed")
				continue
			}
			m.storeList(watchCtx, items)
			fn(FilterAvailable(items))
		}
		if err := stream.Err(); err != nil && watchCtx.Err() == nil {
			m.log.WithError(err).Warn("catalog change stream ended")
		}
	}()

	return stop, nil
}

var _ Watchable = (*Mongo)(nil)
