package store

import (
	"fmt"
	"sync"

	"stratlab/internal/market"
)

// CandleCache 缓存整段回放窗口，避免参数扫描反复读盘。
type CandleCache interface {
	Get(symbol, timeframe string, start, end int64) ([]market.Candle, bool)
	Set(symbol, timeframe string, start, end int64, candles []market.Candle)
}

// MemoryCandleCache 是分片的内存窗口缓存，键为 symbol@timeframe@区间。
type MemoryCandleCache struct {
	shards []cacheShard
}

type cacheShard struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

const (
	defaultShardCount = 32
	maxShardEntries   = 8
)

func NewMemoryCandleCache() *MemoryCandleCache {
	out := &MemoryCandleCache{
		shards: make([]cacheShard, defaultShardCount),
	}
	for i := range out.shards {
		out.shards[i] = cacheShard{data: make(map[string][]market.Candle)}
	}
	return out
}

func cacheKey(symbol, timeframe string, start, end int64) string {
	return fmt.Sprintf("%s@%s@%d-%d", symbol, timeframe, start, end)
}

func (c *MemoryCandleCache) shardFor(key string) *cacheShard {
	idx := hashKey(key) % uint32(len(c.shards))
	return &c.shards[idx]
}

func (c *MemoryCandleCache) Get(symbol, timeframe string, start, end int64) ([]market.Candle, bool) {
	k := cacheKey(symbol, timeframe, start, end)
	sh := c.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur, ok := sh.data[k]
	if !ok {
		return nil, false
	}
	out := make([]market.Candle, len(cur))
	copy(out, cur)
	return out, true
}

func (c *MemoryCandleCache) Set(symbol, timeframe string, start, end int64, candles []market.Candle) {
	k := cacheKey(symbol, timeframe, start, end)
	sh := c.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.data[k]; !ok && len(sh.data) >= maxShardEntries {
		// 容量护栏而非 LRU: 任意逐出一条。
		for victim := range sh.data {
			delete(sh.data, victim)
			break
		}
	}
	dst := make([]market.Candle, len(candles))
	copy(dst, candles)
	sh.data[k] = dst
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
