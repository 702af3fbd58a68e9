package lookup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardRingLookupIsDeterministic(t *testing.T) {
	ring := NewShardRing([]string{"redis-0", "redis-1", "redis-2"})

	owner := ring.Lookup("customer-42")
	require.NotEmpty(t, owner)
	for i := 0; i < 50; i++ {
		assert.Equal(t, owner, ring.Lookup("customer-42"))
	}
}

func TestShardRingDistributesAcrossAllNodes(t *testing.T) {
	ring := NewShardRing([]string{"redis-0", "redis-1", "redis-2"})

	seen := map[string]bool{}
	for i := 0; i < 2000; i++ {
		seen[ring.Lookup(fmt.Sprintf("key-%d", i))] = true
	}
	assert.Len(t, seen, 3, "a large enough key sample should land on every node")
}

// TestShardRingRemoveOnlyReshufflesOwnedKeys checks the core rendezvous
// hashing property: removing a node changes ownership only for the keys
// that node used to own, leaving every other key's assignment untouched.
func TestShardRingRemoveOnlyReshufflesOwnedKeys(t *testing.T) {
	nodes := []string{"redis-0", "redis-1", "redis-2", "redis-3"}
	ring := NewShardRing(nodes)

	const sampleSize = 500
	keys := make([]string, sampleSize)
	before := make([]string, sampleSize)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		before[i] = ring.Lookup(keys[i])
	}

	ring.Remove("redis-1")

	for i, k := range keys {
		after := ring.Lookup(k)
		assert.NotEqual(t, "redis-1", after, "removed node must own no keys")
		if before[i] != "redis-1" {
			assert.Equal(t, before[i], after, "key %s owned by a surviving node must not move", k)
		}
	}
}

func TestShardRingLookupEmptyRing(t *testing.T) {
	ring := NewShardRing(nil)
	assert.Equal(t, "", ring.Lookup("anything"))
}

func TestShardRingAddRegistersNewNode(t *testing.T) {
	ring := NewShardRing([]string{"redis-0"})
	ring.Add("redis-1")

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		seen[ring.Lookup(fmt.Sprintf("key-%d", i))] = true
	}
	assert.Contains(t, seen, "redis-1")
}
