package memory

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/droverml/drover/pkg/types"
)

var (
	// Bucket names
	bucketSamples = []byte("samples")
	bucketMeta    = []byte("meta")

	keyStats = []byte("stats")
)

// BoltStore is a disk-backed replay memory. Samples live under contiguous
// sequence-number keys; cropping to capacity deletes from the low end, so
// the key range is always [first, next).
type BoltStore struct {
	db     *bolt.DB
	maxLen int

	mu    sync.Mutex
	first uint64
	next  uint64
	stats types.EpisodeStats
	rng   *rand.Rand
}

// NewBoltStore opens (or creates) a replay database at path. An existing
// database is picked up where it left off.
func NewBoltStore(path string, maxLen int) (*BoltStore, error) {
	if maxLen <= 0 {
		maxLen = 1
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open replay database: %w", err)
	}

	s := &BoltStore{
		db:     db,
		maxLen: maxLen,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	err = db.Update(func(tx *bolt.Tx) error {
		samples, err := tx.CreateBucketIfNotExists(bucketSamples)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSamples, err)
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}

		// recover the key range and statistics from a previous run
		cur := samples.Cursor()
		if k, _ := cur.First(); k != nil {
			s.first = btoi(k)
			last, _ := cur.Last()
			s.next = btoi(last) + 1
		}
		if data := meta.Get(keyStats); data != nil {
			if err := json.Unmarshal(data, &s.stats); err != nil {
				return fmt.Errorf("failed to decode stored stats: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Append stores the samples under fresh sequence keys, crops to capacity
// from the low end, and overwrites the statistics.
func (s *BoltStore) Append(samples []types.Sample, stats types.EpisodeStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSamples)
		next := s.next
		for i := range samples {
			data, err := json.Marshal(&samples[i])
			if err != nil {
				return fmt.Errorf("failed to encode sample: %w", err)
			}
			if err := b.Put(itob(next), data); err != nil {
				return err
			}
			next++
		}

		first := s.first
		for next-first > uint64(s.maxLen) {
			if err := b.Delete(itob(first)); err != nil {
				return err
			}
			first++
		}

		data, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("failed to encode stats: %w", err)
		}
		if err := tx.Bucket(bucketMeta).Put(keyStats, data); err != nil {
			return err
		}

		s.next = next
		s.first = first
		return nil
	})
	if err != nil {
		return err
	}
	s.stats = stats
	return nil
}

// SampleBatch draws n samples uniformly at random with replacement.
func (s *BoltStore) SampleBatch(n int) ([]types.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := s.next - s.first
	if count == 0 {
		return nil, fmt.Errorf("replay memory is empty")
	}

	batch := make([]types.Sample, 0, n)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSamples)
		for i := 0; i < n; i++ {
			key := s.first + uint64(s.rng.Int63n(int64(count)))
			data := b.Get(itob(key))
			if data == nil {
				return fmt.Errorf("missing sample %d", key)
			}
			var sample types.Sample
			if err := json.Unmarshal(data, &sample); err != nil {
				return fmt.Errorf("failed to decode sample %d: %w", key, err)
			}
			batch = append(batch, sample)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// Len reports the number of stored samples.
func (s *BoltStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.next - s.first)
}

// Stats returns the most recently recorded episode statistics.
func (s *BoltStore) Stats() types.EpisodeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// itob encodes a sequence number as a sortable big-endian key.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
