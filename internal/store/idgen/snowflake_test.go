package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_UniqueAndIncreasing(t *testing.T) {
	node := NewNode(3)

	var last int64
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestGenerate_Concurrent(t *testing.T) {
	node := NewNode(1)
	seen := sync.Map{}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := node.NextString()
				_, dup := seen.LoadOrStore(id, struct{}{})
				assert.False(t, dup, "duplicate id %s", id)
			}
		}()
	}
	wg.Wait()
}

func TestNewNode_OutOfRange(t *testing.T) {
	assert.Equal(t, int64(1), NewNode(-5).nodeID)
	assert.Equal(t, int64(1), NewNode(maxNodeID+1).nodeID)
}
