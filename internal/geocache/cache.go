// 包 geocache：坐标键的反查结果缓存（进程内 LRU，可选 Redis 共享层）
package geocache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"crime-etl/internal/record"
)

// 文档注释：缓存条目
// 背景：记录一次反查得到的区名与邮编区，以及产生该结果的搜索半径；更大半径的检索可复用更小半径的完整结果。
// 约束：只缓存至少一个字段已解析的条目；Radius 单位为米。
type Entry struct {
	Ward     record.Field
	Postcode record.Field
	Radius   int
}

// Resolved：至少一个字段已解析
func (e Entry) Resolved() bool { return e.Ward.IsResolved() || e.Postcode.IsResolved() }

// Complete：两个字段均已解析
func (e Entry) Complete() bool { return e.Ward.IsResolved() && e.Postcode.IsResolved() }

// Serves：该条目能否直接作为半径 radius 的检索结果
func (e Entry) Serves(radius int) bool { return e.Complete() || e.Radius >= radius }

type Cache interface {
	Get(ctx context.Context, k record.CoordKey) (Entry, bool)
	Set(ctx context.Context, k record.CoordKey, e Entry)
}

// 文档注释：进程内 LRU 缓存
// 背景：同一次运行的多轮富化之间复用结果，避免对已解析坐标重复发起批量请求；TTL 可调。
// 约束：并发安全；ttl<=0 表示不过期。
type LRU struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[record.CoordKey]*list.Element
}

type kv struct {
	k   record.CoordKey
	v   Entry
	exp time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[record.CoordKey]*list.Element)}
}

func (c *LRU) Get(_ context.Context, k record.CoordKey) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.dict[k]; ok {
		it := e.Value.(kv)
		if c.ttl <= 0 || time.Now().Before(it.exp) {
			c.lst.MoveToFront(e)
			return it.v, true
		}
		c.lst.Remove(e)
		delete(c.dict, k)
	}
	return Entry{}, false
}

func (c *LRU) Set(_ context.Context, k record.CoordKey, v Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := time.Now().Add(c.ttl)
	if e, ok := c.dict[k]; ok {
		e.Value = kv{k: k, v: v, exp: exp}
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(kv{k: k, v: v, exp: exp})
	for c.cap > 0 && c.lst.Len() > c.cap {
		back := c.lst.Back()
		if back == nil {
			break
		}
		delete(c.dict, back.Value.(kv).k)
		c.lst.Remove(back)
	}
}

// Len 当前条目数
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

// 文档注释：多级缓存
// 背景：按顺序查询各层，首个命中即返回，并回填到更靠前的层；写入同时落到所有层。
// 约束：nil 层被跳过。
type Chain struct {
	layers []Cache
}

func NewChain(layers ...Cache) *Chain {
	out := &Chain{}
	for _, l := range layers {
		if l != nil {
			out.layers = append(out.layers, l)
		}
	}
	return out
}

func (c *Chain) Get(ctx context.Context, k record.CoordKey) (Entry, bool) {
	for i, l := range c.layers {
		if e, ok := l.Get(ctx, k); ok {
			for j := 0; j < i; j++ {
				c.layers[j].Set(ctx, k, e)
			}
			return e, true
		}
	}
	return Entry{}, false
}

func (c *Chain) Set(ctx context.Context, k record.CoordKey, e Entry) {
	for _, l := range c.layers {
		l.Set(ctx, k, e)
	}
}
