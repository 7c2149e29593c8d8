package bucketing

import (
	"hash"
	"sync"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// BucketingManager assigns accounts to ScyllaDB partition buckets. The
// bucket count is fixed per deployment; changing it requires a data
// migration, so it lives in config, not code.
type BucketingManager struct {
	accountBuckets int
	hasherPool     sync.Pool
}

func NewBucketingManager(accountBuckets int) *BucketingManager {
	bm := &BucketingManager{
		accountBuckets: accountBuckets,
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetAccountBucket returns the consistent bucket for an account id
// (0 to accountBuckets-1).
func (bm *BucketingManager) GetAccountBucket(accountID uuid.UUID) int {
	return bm.getBucket(accountID.String())
}

func (bm *BucketingManager) AccountBuckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) getBucket(key string) int {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return int(hasher.Sum64() % uint64(bm.accountBuckets))
}
