package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sre-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava estatísticas de decisão em hashes do Redis.
//
// Só estatística: os contadores que decidem allow/deny continuam em memória
// (Store), o Redis aqui não coordena instâncias.
type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total, route e rule são cumulativos e não expiram.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys devolve as chaves que um evento vai tocar, na ordem do pipeline.
func (s *RedisStatsStore) Keys(ev domain.StatsEvent) []string {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	keys := []string{s.prefix + ":total"}
	if s.bucket == "minute" {
		keys = append(keys, fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504")))
	}
	if routeField(ev) != "" {
		keys = append(keys, s.prefix+":route")
	}
	if ev.Rule != "" {
		keys = append(keys, s.prefix+":rule")
	}
	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keys = append(keys, s.prefix+":key:"+k)
		}
	}
	return keys
}

func routeField(ev domain.StatsEvent) string {
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
}

func decisionField(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	field := decisionField(ev.Allowed)
	pipe := s.rdb.Pipeline()
	for _, key := range s.Keys(ev) {
		switch {
		case strings.HasSuffix(key, ":route"):
			pipe.HIncrBy(ctx, key, routeField(ev)+":"+field, 1)
		case strings.HasSuffix(key, ":rule"):
			pipe.HIncrBy(ctx, key, string(ev.Rule)+":"+field, 1)
		default:
			pipe.HIncrBy(ctx, key, field, 1)
			if s.ttl > 0 && !strings.HasSuffix(key, ":total") {
				pipe.Expire(ctx, key, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
