package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"codemode/internal/errors"
	"codemode/internal/logging"
)

// RedisStorage maps entities onto a prefixed keyspace:
//
//	<prefix>:skills:<name>            source
//	<prefix>:skills:<name>:meta       JSON metadata
//	<prefix>:skills:<name>:embedding  JSON embedding cache
//	<prefix>:artifacts:<name>         raw bytes
//	<prefix>:artifacts:<name>:meta    JSON metadata
//	<prefix>:deps                     list of dep specs
//
// Listing uses SCAN over the kind prefix. Single-key writes are atomic;
// multi-key writes (entity + meta) go through a pipeline.
type RedisStorage struct {
	client *redis.Client
	url    string
	prefix string
	logger logging.Logger
}

// OpenRedis connects to the Redis endpoint named by url and verifies it with
// a ping. Prefix defaults to "codemode".
func OpenRedis(ctx context.Context, url, prefix string, logger logging.Logger) (*RedisStorage, error) {
	if url == "" {
		return nil, errors.New(errors.KindInvalidRequest, "redis connection url must be non-empty")
	}
	if prefix == "" {
		prefix = "codemode"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidRequest, err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "ping redis")
	}
	return &RedisStorage{client: client, url: url, prefix: prefix, logger: logging.OrNop(logger)}, nil
}

func (s *RedisStorage) Skills() SkillStore       { return (*redisSkillStore)(s) }
func (s *RedisStorage) Artifacts() ArtifactStore { return (*redisArtifactStore)(s) }
func (s *RedisStorage) Deps() DepStore           { return (*redisDepStore)(s) }

func (s *RedisStorage) BootstrapAccess() Access {
	return Access{Type: TypeRedis, ConnectionURL: s.url, Prefix: s.prefix}
}

func (s *RedisStorage) Close() error { return s.client.Close() }

func (s *RedisStorage) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// scanNames collects entity names under one kind prefix, skipping sidecar keys.
func (s *RedisStorage) scanNames(ctx context.Context, kind string) ([]string, error) {
	pattern := s.key(kind) + ":*"
	var names []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name := strings.TrimPrefix(key, s.key(kind)+":")
		if strings.HasSuffix(name, ":meta") || strings.HasSuffix(name, ":embedding") {
			continue
		}
		names = append(names, name)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "scan %s", kind)
	}
	sort.Strings(names)
	return names, nil
}

// skill store

type redisSkillStore RedisStorage

func (s *redisSkillStore) base() *RedisStorage { return (*RedisStorage)(s) }

func (s *redisSkillStore) Get(ctx context.Context, name string) (*SkillRecord, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	source, err := s.client.Get(ctx, s.base().key("skills", name)).Result()
	if err == redis.Nil {
		return nil, errors.New(errors.KindNotFound, "skill %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "get skill %q", name)
	}

	record := &SkillRecord{Name: name, Source: source}
	meta, err := s.client.Get(ctx, s.base().key("skills", name, "meta")).Result()
	if err == nil {
		var m skillMeta
		if jerr := json.Unmarshal([]byte(meta), &m); jerr != nil {
			s.logger.Warn("Skill %q has unreadable metadata: %v", name, jerr)
		} else {
			record.Description = m.Description
			record.CreatedAt = m.CreatedAt
		}
	}
	return record, nil
}

func (s *redisSkillStore) Put(ctx context.Context, record *SkillRecord) error {
	if err := validateName(record.Name); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(skillMeta{Description: record.Description, CreatedAt: record.CreatedAt})
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "encode skill metadata")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.base().key("skills", record.Name), record.Source, 0)
	pipe.Set(ctx, s.base().key("skills", record.Name, "meta"), meta, 0)
	pipe.Del(ctx, s.base().key("skills", record.Name, "embedding"))
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "put skill %q", record.Name)
	}
	return nil
}

func (s *redisSkillStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	removed, err := s.client.Del(ctx,
		s.base().key("skills", name),
		s.base().key("skills", name, "meta"),
		s.base().key("skills", name, "embedding"),
	).Result()
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "delete skill %q", name)
	}
	return removed > 0, nil
}

func (s *redisSkillStore) List(ctx context.Context) ([]*SkillRecord, error) {
	names, err := s.base().scanNames(ctx, "skills")
	if err != nil {
		return nil, err
	}
	records := make([]*SkillRecord, 0, len(names))
	for _, name := range names {
		record, err := s.Get(ctx, name)
		if err != nil {
			s.logger.Warn("Skipping unreadable skill %q: %v", name, err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *redisSkillStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.base().key("skills", name)).Result()
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "exists skill %q", name)
	}
	return n > 0, nil
}

func (s *redisSkillStore) GetEmbedding(ctx context.Context, name string) (*Embedding, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.base().key("skills", name, "embedding")).Result()
	if err == redis.Nil {
		return nil, errors.New(errors.KindNotFound, "no cached embedding for %q", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "get embedding for %q", name)
	}
	var emb Embedding
	if err := json.Unmarshal([]byte(data), &emb); err != nil {
		return nil, errors.Wrap(errors.KindCorrupt, err, "embedding for %q", name)
	}
	return &emb, nil
}

func (s *redisSkillStore) PutEmbedding(ctx context.Context, name string, emb *Embedding) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := json.Marshal(emb)
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "encode embedding")
	}
	if err := s.client.Set(ctx, s.base().key("skills", name, "embedding"), data, 0).Err(); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "put embedding for %q", name)
	}
	return nil
}

// artifact store

type redisArtifactStore RedisStorage

func (s *redisArtifactStore) base() *RedisStorage { return (*RedisStorage)(s) }

func (s *redisArtifactStore) Get(ctx context.Context, name string) (*ArtifactRecord, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.base().key("artifacts", name)).Bytes()
	if err == redis.Nil {
		return nil, errors.New(errors.KindNotFound, "artifact %q not found", name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "get artifact %q", name)
	}
	record := &ArtifactRecord{Name: name, Data: data}
	s.readMeta(ctx, name, record)
	return record, nil
}

func (s *redisArtifactStore) readMeta(ctx context.Context, name string, record *ArtifactRecord) {
	raw, err := s.client.Get(ctx, s.base().key("artifacts", name, "meta")).Result()
	if err != nil {
		return
	}
	var m artifactMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		s.logger.Warn("Artifact %q has unreadable metadata: %v", name, err)
		return
	}
	record.Description = m.Description
	record.Metadata = m.Metadata
	record.CreatedAt = m.CreatedAt
}

func (s *redisArtifactStore) Put(ctx context.Context, record *ArtifactRecord) error {
	if err := validateName(record.Name); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(artifactMeta{
		Description: record.Description,
		Metadata:    record.Metadata,
		CreatedAt:   record.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "encode artifact metadata")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.base().key("artifacts", record.Name), record.Data, 0)
	pipe.Set(ctx, s.base().key("artifacts", record.Name, "meta"), meta, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "put artifact %q", record.Name)
	}
	return nil
}

func (s *redisArtifactStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	removed, err := s.client.Del(ctx,
		s.base().key("artifacts", name),
		s.base().key("artifacts", name, "meta"),
	).Result()
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "delete artifact %q", name)
	}
	return removed > 0, nil
}

func (s *redisArtifactStore) List(ctx context.Context) ([]*ArtifactRecord, error) {
	names, err := s.base().scanNames(ctx, "artifacts")
	if err != nil {
		return nil, err
	}
	records := make([]*ArtifactRecord, 0, len(names))
	for _, name := range names {
		record := &ArtifactRecord{Name: name}
		s.readMeta(ctx, name, record)
		records = append(records, record)
	}
	return records, nil
}

func (s *redisArtifactStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.base().key("artifacts", name)).Result()
	if err != nil {
		return false, errors.Wrap(errors.KindStorageUnavailable, err, "exists artifact %q", name)
	}
	return n > 0, nil
}

// deps store

type redisDepStore RedisStorage

func (s *redisDepStore) base() *RedisStorage { return (*RedisStorage)(s) }

func (s *redisDepStore) List(ctx context.Context) ([]string, error) {
	specs, err := s.client.LRange(ctx, s.base().key("deps"), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageUnavailable, err, "list deps")
	}
	return specs, nil
}

func (s *redisDepStore) Save(ctx context.Context, specs []string) error {
	key := s.base().key("deps")
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(specs) > 0 {
		args := make([]any, len(specs))
		for i, spec := range specs {
			args[i] = spec
		}
		pipe.RPush(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(errors.KindStorageUnavailable, err, "save deps")
	}
	return nil
}
