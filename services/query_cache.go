package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"infra-rag-platform/models"
	"infra-rag-platform/utils"
)

const (
	queryCachePrefix     = "ragcache:answer:"
	queryCacheGeneration = "ragcache:generation"
)

// RedisQueryCache keeps brotli-compressed answers in Redis.
// Keys embed an index generation that Invalidate bumps, so stale answers simply stop being read.
type RedisQueryCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisQueryCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisQueryCache {
	return &RedisQueryCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (qc *RedisQueryCache) Get(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, bool) {
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	key, err := qc.key(ctx, req)
	if err != nil {
		qc.logger.Debug("query cache unavailable", "error", err)
		return nil, false
	}

	packed, err := qc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			qc.logger.Warn("query cache read failed", "error", err)
		}
		return nil, false
	}

	raw, err := utils.Unpack(packed)
	if err != nil {
		qc.logger.Warn("query cache entry corrupt", "key", key, "error", err)
		return nil, false
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (qc *RedisQueryCache) Set(ctx context.Context, req models.QueryRequest, resp *models.QueryResponse) {
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()

	key, err := qc.key(ctx, req)
	if err != nil {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	packed, err := utils.Pack(raw)
	if err != nil {
		qc.logger.Warn("query cache compression failed", "error", err)
		return
	}

	if err := qc.rdb.Set(ctx, key, packed, qc.ttl).Err(); err != nil {
		qc.logger.Warn("query cache write failed", "error", err)
	}
}

// Invalidate bumps the index generation.
func (qc *RedisQueryCache) Invalidate(ctx context.Context) error {
	ctx, cancel := utils.WithShortTimeout(ctx)
	defer cancel()
	if err := qc.rdb.Incr(ctx, queryCacheGeneration).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}

func (qc *RedisQueryCache) key(ctx context.Context, req models.QueryRequest) (string, error) {
	gen, err := qc.rdb.Get(ctx, queryCacheGeneration).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	kinds := ""
	for _, k := range kindsFor(req) {
		kinds += string(k) + ","
	}
	return queryCachePrefix + strconv.FormatInt(gen, 10) + ":" +
		utils.HashKey(utils.NormalizeQuery(req.Question), strconv.Itoa(req.TopK), kinds, req.TenantID), nil
}
