package corpusconv

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketResults = []byte("chunk_results")

// ResultStore is the durable intermediate home of chunk results. A result
// must land here before its checkpoint commits, so that a resumed run can
// assemble committed chunks without reprocessing them.
//
// Backed by bbolt: one bucket keyed by big-endian chunk id, JSON values.
// Writes go through a single committer goroutine and bbolt fsyncs on every
// update transaction, which is exactly the durability the checkpoint
// contract needs.
type ResultStore struct {
	db *bbolt.DB
}

// OpenResultStore opens (creating if absent) the store at path.
func OpenResultStore(path string) (*ResultStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("results: open store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("results: init store: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// Put durably persists one chunk result. Returns only after the enclosing
// transaction is fsynced.
func (s *ResultStore) Put(result *ChunkResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("results: marshal chunk %d: %w", result.ChunkID, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResults).Put(resultKey(result.ChunkID), data)
	})
	if err != nil {
		return fmt.Errorf("results: put chunk %d: %w", result.ChunkID, err)
	}
	return nil
}

// Get loads one chunk result. ok is false when the chunk was never stored.
func (s *ResultStore) Get(chunkID uint32) (*ChunkResult, bool, error) {
	var result *ChunkResult
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResults).Get(resultKey(chunkID))
		if data == nil {
			return nil
		}
		result = &ChunkResult{}
		return json.Unmarshal(data, result)
	})
	if err != nil {
		return nil, false, fmt.Errorf("results: get chunk %d: %w", chunkID, err)
	}
	return result, result != nil, nil
}

// Close closes the underlying database.
func (s *ResultStore) Close() error { return s.db.Close() }

// resultKey encodes a chunk id big-endian so bucket iteration order is
// chunk order.
func resultKey(chunkID uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, chunkID)
	return key
}
