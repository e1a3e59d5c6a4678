package broker

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// registry 订阅关系表，按范围名分片加锁，不存在跨所有范围的全局锁
type registry struct {
	shards [shardCount]*shard
}

type shard struct {
	mu     sync.RWMutex
	scopes map[string]map[string]Subscriber // scope -> subscriberID -> Subscriber
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i] = &shard{scopes: make(map[string]map[string]Subscriber)}
	}
	return r
}

func (r *registry) shardFor(scope string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(scope))
	return r.shards[h.Sum32()%shardCount]
}

// add 加入范围，返回是否新加入
func (r *registry) add(scope string, sub Subscriber) bool {
	sh := r.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	members, ok := sh.scopes[scope]
	if !ok {
		members = make(map[string]Subscriber)
		sh.scopes[scope] = members
	}
	if _, exists := members[sub.ID()]; exists {
		members[sub.ID()] = sub
		return false
	}
	members[sub.ID()] = sub
	return true
}

// remove 移出范围，空范围一并删除
func (r *registry) remove(scope, subscriberID string) bool {
	sh := r.shardFor(scope)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	members, ok := sh.scopes[scope]
	if !ok {
		return false
	}
	if _, exists := members[subscriberID]; !exists {
		return false
	}
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(sh.scopes, scope)
	}
	return true
}

// removeAll 从所有范围移出，返回移出的范围
func (r *registry) removeAll(subscriberID string) []string {
	var removed []string
	for _, sh := range r.shards {
		sh.mu.Lock()
		for scope, members := range sh.scopes {
			if _, ok := members[subscriberID]; ok {
				delete(members, subscriberID)
				removed = append(removed, scope)
				if len(members) == 0 {
					delete(sh.scopes, scope)
				}
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// snapshot 复制范围内的订阅者，投递在锁外进行
func (r *registry) snapshot(scope string) []Subscriber {
	sh := r.shardFor(scope)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	members := sh.scopes[scope]
	subs := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		subs = append(subs, sub)
	}
	return subs
}

func (r *registry) size(scope string) int {
	sh := r.shardFor(scope)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.scopes[scope])
}

// counts 返回范围数和订阅关系总数
func (r *registry) counts() (scopes, subscriptions int) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		scopes += len(sh.scopes)
		for _, members := range sh.scopes {
			subscriptions += len(members)
		}
		sh.mu.RUnlock()
	}
	return scopes, subscriptions
}
