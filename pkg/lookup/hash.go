package lookup

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// ShardRing distributes table keys across a fixed set of backing nodes
// (e.g. redis instances) using rendezvous (highest-random-weight) hashing,
// so adding or removing a node only reshuffles the keys owned by that one
// node instead of the whole keyspace, the same property sarama's hash
// partitioner buys for Kafka topic partitioning.
type ShardRing struct {
	rdv   *rendezvous.Rendezvous
	nodes []string
}

func xxhashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// NewShardRing builds a ring over nodes (e.g. "redis-0", "redis-1", ...).
func NewShardRing(nodes []string) *ShardRing {
	cp := append([]string{}, nodes...)
	return &ShardRing{
		rdv:   rendezvous.New(cp, xxhashString),
		nodes: cp,
	}
}

// Lookup returns the node owning key.
func (s *ShardRing) Lookup(key string) string {
	if len(s.nodes) == 0 {
		return ""
	}
	return s.rdv.Lookup(key)
}

// Add registers a new node, reshuffling only the keys it now owns.
func (s *ShardRing) Add(node string) {
	s.rdv.Add(node)
	s.nodes = append(s.nodes, node)
}

// Remove drops a node from the ring.
func (s *ShardRing) Remove(node string) {
	s.rdv.Remove(node)
	for i, n := range s.nodes {
		if n == node {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			break
		}
	}
}
