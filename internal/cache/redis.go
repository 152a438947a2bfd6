package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glup3/ghstats/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultNamespace = "ghstats:"

type RedisConfig struct {
	// URL is the connection URL, e.g. "redis://:password@localhost:6379/0".
	URL string

	Namespace string

	// TTL applies to every key of a commit. Zero keeps entries until they are replaced.
	TTL time.Duration
}

// RedisStore keeps one snapshot as three keys:
//
//	<ns><key>:pages      list of JSON page entries in page order
//	<ns><key>:data       hash etag -> JSON repository records
//	<ns><key>:aggregate  JSON result
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	log.Info().Str("namespace", namespace).Dur("ttl", cfg.TTL).Msg("redis cache connected")

	return &RedisStore{
		client:    client,
		namespace: namespace,
		ttl:       cfg.TTL,
	}, nil
}

func (s *RedisStore) keys(key stats.Key) (pages, data, aggregate string) {
	prefix := s.namespace + key.String()
	return prefix + ":pages", prefix + ":data", prefix + ":aggregate"
}

func (s *RedisStore) PageList(ctx context.Context, key stats.Key) ([]stats.PageEntry, error) {
	pagesKey, _, _ := s.keys(key)

	values, err := s.client.LRange(ctx, pagesKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read page list from redis: %w", err)
	}

	entries := make([]stats.PageEntry, 0, len(values))
	for _, value := range values {
		var entry stats.PageEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, fmt.Errorf("failed to parse page entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *RedisStore) PageData(ctx context.Context, key stats.Key, etag string) ([]stats.RepoRecord, bool, error) {
	_, dataKey, _ := s.keys(key)

	value, err := s.client.HGet(ctx, dataKey, etag).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read page data from redis: %w", err)
	}

	var repos []stats.RepoRecord
	if err := json.Unmarshal(value, &repos); err != nil {
		return nil, false, fmt.Errorf("failed to parse page data: %w", err)
	}

	return repos, true, nil
}

func (s *RedisStore) Aggregate(ctx context.Context, key stats.Key) (*stats.Result, error) {
	_, _, aggregateKey := s.keys(key)

	value, err := s.client.Get(ctx, aggregateKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read aggregate from redis: %w", err)
	}

	var result stats.Result
	if err := json.Unmarshal(value, &result); err != nil {
		return nil, fmt.Errorf("failed to parse aggregate: %w", err)
	}

	return &result, nil
}

// Commit replaces the snapshot of key inside one MULTI/EXEC, so readers see either the
// previous snapshot or the new one and stale etags disappear with the old hash.
func (s *RedisStore) Commit(ctx context.Context, key stats.Key, snapshot stats.Snapshot) error {
	pages := make([]interface{}, 0, len(snapshot.Pages))
	for _, entry := range snapshot.Pages {
		value, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal page entry: %w", err)
		}
		pages = append(pages, value)
	}

	data := make(map[string]interface{}, len(snapshot.Data))
	for etag, repos := range snapshot.Data {
		value, err := json.Marshal(repos)
		if err != nil {
			return fmt.Errorf("failed to marshal page data: %w", err)
		}
		data[etag] = value
	}

	aggregate, err := json.Marshal(snapshot.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	pagesKey, dataKey, aggregateKey := s.keys(key)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, pagesKey, dataKey, aggregateKey)
		if len(pages) > 0 {
			pipe.RPush(ctx, pagesKey, pages...)
		}
		if len(data) > 0 {
			pipe.HSet(ctx, dataKey, data)
		}
		pipe.Set(ctx, aggregateKey, aggregate, s.ttl)
		if s.ttl > 0 {
			pipe.Expire(ctx, pagesKey, s.ttl)
			pipe.Expire(ctx, dataKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit snapshot to redis: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
