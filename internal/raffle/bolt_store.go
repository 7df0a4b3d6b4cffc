package raffle

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	stateBucket = []byte("raffle")
	drawsBucket = []byte("raffle_draws")
	snapshotKey = []byte("snapshot")
)

// BoltStore persists the raffle in a local bbolt file, for single-node
// deployments without PostgreSQL.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the bolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{stateBucket, drawsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(stateBucket).Get(snapshotKey)
		if data == nil {
			return ErrNoSnapshot
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (b *BoltStore) Save(ctx context.Context, snap Snapshot, draw *Draw) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(stateBucket).Put(snapshotKey, data); err != nil {
			return err
		}
		if draw == nil {
			return nil
		}
		draws := tx.Bucket(drawsBucket)
		key := roundKey(draw.Round)
		if draws.Get(key) != nil {
			return nil
		}
		encoded, err := json.Marshal(draw)
		if err != nil {
			return fmt.Errorf("encode draw: %w", err)
		}
		return draws.Put(key, encoded)
	})
}

func (b *BoltStore) ListDraws(ctx context.Context, before uint64, limit int) ([]Draw, error) {
	var out []Draw
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(drawsBucket).Cursor()
		k, v := c.Last()
		if before > 0 {
			// Seek lands on the first round >= before, or past the end.
			if k, _ = c.Seek(roundKey(before)); k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}
		for ; k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var d Draw
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode draw %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// Keys sort by round so the cursor walks draws in order.
func roundKey(round uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, round)
	return k
}
