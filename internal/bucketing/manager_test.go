package bucketing

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAccountBucketDeterministic(t *testing.T) {
	bm := NewBucketingManager(64)
	id := uuid.New()

	first := bm.GetAccountBucket(id)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, bm.GetAccountBucket(id))
	}
}

func TestGetAccountBucketRange(t *testing.T) {
	bm := NewBucketingManager(16)

	for i := 0; i < 1000; i++ {
		bucket := bm.GetAccountBucket(uuid.New())
		require.GreaterOrEqual(t, bucket, 0)
		require.Less(t, bucket, 16)
	}
}

func TestGetAccountBucketSpread(t *testing.T) {
	bm := NewBucketingManager(8)

	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		seen[bm.GetAccountBucket(uuid.New())] = true
	}

	// With 2000 random ids every one of 8 buckets should be hit.
	assert.Len(t, seen, 8)
}

func TestGetAccountBucketConcurrent(t *testing.T) {
	bm := NewBucketingManager(32)
	id := uuid.New()
	want := bm.GetAccountBucket(id)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := bm.GetAccountBucket(id); got != want {
					t.Errorf("bucket changed under concurrency: got %d, want %d", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestAccountBuckets(t *testing.T) {
	assert.Equal(t, 64, NewBucketingManager(64).AccountBuckets())
}
