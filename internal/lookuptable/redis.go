package lookuptable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/solana-leg-executor/internal/constants"
	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore shares resolved tables between executor processes. It reads through to
// next on a miss and writes the result back with a TTL.
type RedisStore struct {
	client *redis.Client
	next   Resolver
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisStore(client *redis.Client, next Resolver, ttl time.Duration, logger *logrus.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if next == nil {
		return nil, fmt.Errorf("fallback resolver is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisStore{client: client, next: next, ttl: ttl, logger: logger}, nil
}

func redisKey(addr solana.PublicKey) string {
	return constants.RedisKeyLookupTablePrefix + addr.String()
}

func (s *RedisStore) ResolveTable(ctx context.Context, addr solana.PublicKey) (solana.PublicKeySlice, error) {
	raw, err := s.client.Get(ctx, redisKey(addr)).Bytes()
	switch {
	case err == nil:
		if table, ok := decodeTable(raw); ok {
			return table, nil
		}
		s.logger.WithField("lut", addr.String()).Warn("corrupt lookup table entry in redis, refetching")
	case errors.Is(err, redis.Nil):
	default:
		// Redis is an accelerator only.
		s.logger.WithError(err).Debug("redis lookup table read failed")
	}

	table, err := s.next.ResolveTable(ctx, addr)
	if err != nil {
		return nil, err
	}

	if err := s.client.Set(ctx, redisKey(addr), encodeTable(table), s.ttl).Err(); err != nil {
		s.logger.WithError(err).Debug("redis lookup table write failed")
	}
	return table, nil
}

func encodeTable(table solana.PublicKeySlice) []byte {
	out := make([]byte, 0, len(table)*solana.PublicKeyLength)
	for _, pk := range table {
		out = append(out, pk[:]...)
	}
	return out
}

func decodeTable(raw []byte) (solana.PublicKeySlice, bool) {
	if len(raw)%solana.PublicKeyLength != 0 {
		return nil, false
	}
	out := make(solana.PublicKeySlice, 0, len(raw)/solana.PublicKeyLength)
	for i := 0; i < len(raw); i += solana.PublicKeyLength {
		out = append(out, solana.PublicKeyFromBytes(raw[i:i+solana.PublicKeyLength]))
	}
	return out, true
}
