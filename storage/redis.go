package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"

	"github.com/b-open-io/flagpush/dtos"
	"github.com/b-open-io/flagpush/internal/utils"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

// RedisFeatureFlagStorage stores each flag as a JSON string under its own
// key, plus a set of flag names and the change number.
type RedisFeatureFlagStorage struct {
	DB *redis.Client
}

// NewRedisClient parses connString and returns a client.
func NewRedisClient(connString string) (*redis.Client, error) {
	log.Println("Connecting to Redis Storage...", utils.SanitizeConnectionString(connString))
	opts, err := redis.ParseURL(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func NewRedisFeatureFlagStorage(db *redis.Client) *RedisFeatureFlagStorage {
	return &RedisFeatureFlagStorage{DB: db}
}

func (s *RedisFeatureFlagStorage) ChangeNumber(ctx context.Context) (int64, error) {
	return readTill(ctx, s.DB, flagsTillKey)
}

func (s *RedisFeatureFlagStorage) Update(ctx context.Context, toAdd []dtos.SplitDTO, toRemove []dtos.SplitDTO, changeNumber int64) error {
	_, err := s.DB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, flag := range toAdd {
			raw, err := json.Marshal(flag)
			if err != nil {
				return fmt.Errorf("failed to encode feature flag %s: %w", flag.Name, err)
			}
			p.Set(ctx, flagKey(flag.Name), raw, 0)
			p.SAdd(ctx, flagNamesKey, flag.Name)
		}
		for _, flag := range toRemove {
			p.Del(ctx, flagKey(flag.Name))
			p.SRem(ctx, flagNamesKey, flag.Name)
		}
		p.Set(ctx, flagsTillKey, changeNumber, 0)
		return nil
	})
	return err
}

func (s *RedisFeatureFlagStorage) FeatureFlag(ctx context.Context, name string) (*dtos.SplitDTO, error) {
	raw, err := s.DB.Get(ctx, flagKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	var flag dtos.SplitDTO
	if err := json.Unmarshal(raw, &flag); err != nil {
		return nil, fmt.Errorf("failed to decode feature flag %s: %w", name, err)
	}
	return &flag, nil
}

func (s *RedisFeatureFlagStorage) KillLocally(ctx context.Context, name, defaultTreatment string, changeNumber int64) error {
	key := flagKey(name)
	return s.DB.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		} else if err != nil {
			return err
		}

		var flag dtos.SplitDTO
		if err := json.Unmarshal(raw, &flag); err != nil {
			return fmt.Errorf("failed to decode feature flag %s: %w", name, err)
		}
		if flag.ChangeNumber >= changeNumber {
			return nil
		}
		flag.Killed = true
		flag.DefaultTreatment = defaultTreatment
		flag.ChangeNumber = changeNumber
		updated, err := json.Marshal(flag)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}, key)
}

func (s *RedisFeatureFlagStorage) SegmentNames(ctx context.Context) ([]string, error) {
	names, err := s.DB.SMembers(ctx, flagNamesKey).Result()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, name := range names {
		flag, err := s.FeatureFlag(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		for _, seg := range flag.SegmentNames() {
			set[seg] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for seg := range set {
		out = append(out, seg)
	}
	sort.Strings(out)
	return out, nil
}

func (s *RedisFeatureFlagStorage) Close() error {
	return s.DB.Close()
}

// RedisSegmentStorage stores segment keys in a Redis set.
type RedisSegmentStorage struct {
	DB *redis.Client
}

func NewRedisSegmentStorage(db *redis.Client) *RedisSegmentStorage {
	return &RedisSegmentStorage{DB: db}
}

func (s *RedisSegmentStorage) Segment(ctx context.Context, name string) (*dtos.SegmentDTO, error) {
	till, err := s.ChangeNumber(ctx, name)
	if err != nil {
		return nil, err
	}
	if till == NoChangeNumber {
		return nil, ErrNotFound
	}
	keys, err := s.DB.SMembers(ctx, segmentKey(name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return &dtos.SegmentDTO{Name: name, Keys: keys, ChangeNumber: till}, nil
}

func (s *RedisSegmentStorage) ChangeNumber(ctx context.Context, name string) (int64, error) {
	return readTill(ctx, s.DB, segmentTillKey(name))
}

func (s *RedisSegmentStorage) Update(ctx context.Context, name string, toAdd, toRemove []string, changeNumber int64) error {
	_, err := s.DB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(toAdd) > 0 {
			p.SAdd(ctx, segmentKey(name), toAdd)
		}
		if len(toRemove) > 0 {
			p.SRem(ctx, segmentKey(name), toRemove)
		}
		p.Set(ctx, segmentTillKey(name), changeNumber, 0)
		return nil
	})
	return err
}

// Close is a no-op, the client is owned by the flag storage.
func (s *RedisSegmentStorage) Close() error {
	return nil
}

func readTill(ctx context.Context, db *redis.Client, key string) (int64, error) {
	raw, err := db.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return NoChangeNumber, nil
	} else if err != nil {
		return NoChangeNumber, err
	}
	till, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return NoChangeNumber, fmt.Errorf("invalid change number at %s: %w", key, err)
	}
	return till, nil
}
