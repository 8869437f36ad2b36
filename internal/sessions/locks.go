package sessions

import (
	"hash/fnv"
	"sync"
)

// lockShards stripes per-session mutexes. 64 shards keeps memory constant
// while making cross-conversation contention unlikely.
const lockShards = 64

// keyedLocks serializes read-modify-write sequences per session key.
// The platform may deliver concurrent events for the same conversation
// (duplicate delivery, rapid double-send); without this, getOrCreate+append
// interleavings lose context updates or reorder messages.
type keyedLocks struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &k.shards[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
