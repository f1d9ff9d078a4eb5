package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crime-etl/internal/logger"
	"crime-etl/internal/record"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix：Redis 键前缀
const DefaultPrefix = "crimeetl:geocode:"

// 文档注释：Redis 共享缓存层
// 背景：多次运行（以及重跑的各步骤）之间共享已解析坐标，补丁轮之后再跑首轮可直接命中。
// 约束：Redis 不可用时读视为未命中、写被忽略，只记录告警；不影响富化结果。
type Redis struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

type redisEntry struct {
	Ward     string `json:"w"`
	Postcode string `json:"p"`
	Radius   int    `json:"r"`
}

func (r *Redis) key(k record.CoordKey) string {
	p := r.Prefix
	if p == "" {
		p = DefaultPrefix
	}
	return p + k.String()
}

func (r *Redis) Get(ctx context.Context, k record.CoordKey) (Entry, bool) {
	b, err := r.Client.Get(ctx, r.key(k)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Warn("geocache_redis_get_error", "err", err)
		}
		return Entry{}, false
	}
	var re redisEntry
	if err := json.Unmarshal(b, &re); err != nil {
		logger.L().Warn("geocache_redis_decode_error", "err", err)
		return Entry{}, false
	}
	return Entry{Ward: record.ParseField(re.Ward), Postcode: record.ParseField(re.Postcode), Radius: re.Radius}, true
}

func (r *Redis) Set(ctx context.Context, k record.CoordKey, e Entry) {
	b, err := json.Marshal(redisEntry{Ward: e.Ward.String(), Postcode: e.Postcode.String(), Radius: e.Radius})
	if err != nil {
		return
	}
	if err := r.Client.Set(ctx, r.key(k), b, r.TTL).Err(); err != nil {
		logger.L().Warn("geocache_redis_set_error", "err", err)
	}
}
