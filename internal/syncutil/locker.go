// Package syncutil provides per-key locking used to serialize score commits
// for a single account inside one process.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// KeyedLocker serializes work per key. LockContext blocks until the key is
// free or ctx is done; the returned func releases the key.
type KeyedLocker interface {
	LockContext(ctx context.Context, key string) (func(), error)
}

const shardCount = 256

// ShardedLocker is a fixed pool of channel-backed mutexes. Keys hash onto
// shards, so memory stays bounded no matter how many accounts are seen.
// Distinct keys may share a shard.
type ShardedLocker struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewShardedLocker returns a ready locker.
func NewShardedLocker() *ShardedLocker {
	l := &ShardedLocker{}
	l.init()
	return l
}

func (l *ShardedLocker) init() {
	l.once.Do(func() {
		for i := range l.shards {
			l.shards[i] = make(chan struct{}, 1)
			l.shards[i] <- struct{}{}
		}
	})
}

// LockContext acquires the shard owning key.
func (l *ShardedLocker) LockContext(ctx context.Context, key string) (func(), error) {
	l.init()
	ch := l.shards[shardOf(key)]
	select {
	case <-ch:
		var once sync.Once
		return func() { once.Do(func() { ch <- struct{}{} }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// NopLocker never blocks. Engines use it when the store's compare-and-set is
// the only concurrency control.
type NopLocker struct{}

// LockContext returns immediately unless ctx is already done.
func (NopLocker) LockContext(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}
