package presence

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore 基于 redis 的 Store 实现。
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Upsert(ctx context.Context, docID string, e Entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	// 为房间添加成员
	pipe.SAdd(ctx, roomKey(docID), e.UserID)
	// 为成员添加心跳键
	pipe.Set(ctx, memberKey(docID, e.UserID), "1", ttl)
	// 为房间记录成员状态(哈希)
	pipe.HSet(ctx, entriesKey(docID), strconv.FormatUint(e.UserID, 10), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, docID string, userID uint64) (*Entry, error) {
	alive, err := s.rdb.Exists(ctx, memberKey(docID, userID)).Result()
	if err != nil {
		return nil, err
	}
	if alive == 0 {
		return nil, nil
	}
	raw, err := s.rdb.HGet(ctx, entriesKey(docID), strconv.FormatUint(userID, 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *RedisStore) Delete(ctx context.Context, docID string, userID uint64) error {
	pipe := s.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(docID), userID)
	pipe.Del(ctx, memberKey(docID, userID))
	pipe.HDel(ctx, entriesKey(docID), strconv.FormatUint(userID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListActive(ctx context.Context, docID string) ([]Entry, error) {
	// step1: room 候选成员
	userIDs, err := s.rdb.SMembers(ctx, roomKey(docID)).Result()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	// step2: 批量检查心跳键，存在的就是 TTL 未过期的成员
	existsCmds := make([]*redis.IntCmd, 0, len(userIDs))
	pipe := s.rdb.Pipeline()
	for _, raw := range userIDs {
		uid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		existsCmds = append(existsCmds, pipe.Exists(ctx, memberKey(docID, uid)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	aliveFields := make([]string, 0, len(userIDs))
	for i, cmd := range existsCmds {
		if cmd.Val() == 1 {
			aliveFields = append(aliveFields, userIDs[i])
		}
	}
	if len(aliveFields) == 0 {
		return nil, nil
	}

	// step3: 取存活成员的状态
	values, err := s.rdb.HMGet(ctx, entriesKey(docID), aliveFields...).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // hash 字段已被删，跳过
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
