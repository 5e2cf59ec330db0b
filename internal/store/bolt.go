package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ashureev/tutor-core/internal/domain"
)

var checkpointsBucket = []byte("checkpoints")

// BoltCheckpoints keeps checkpoints in a bbolt file: one nested bucket per
// session, keyed by the big-endian sequence number.
type BoltCheckpoints struct {
	db  *bolt.DB
	now func() time.Time
}

type boltRecord struct {
	Snapshot  []byte `json:"snapshot"`
	CreatedAt int64  `json:"created_at_ms"`
}

// NewBolt opens the checkpoint file at path.
func NewBolt(path string) (*BoltCheckpoints, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints bucket: %w", err)
	}
	return &BoltCheckpoints{db: db, now: time.Now}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append stores snapshot as the next checkpoint. bbolt serializes writers,
// so the sequence from NextSequence is never handed out twice.
func (b *BoltCheckpoints) Append(ctx context.Context, sessionID string, snapshot []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var seq uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		sb, err := tx.Bucket(checkpointsBucket).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		seq, err = sb.NextSequence()
		if err != nil {
			return err
		}
		if sb.Get(seqKey(seq)) != nil {
			return ErrSequenceConflict
		}
		enc, err := json.Marshal(boltRecord{Snapshot: snapshot, CreatedAt: b.now().UnixMilli()})
		if err != nil {
			return err
		}
		return sb.Put(seqKey(seq), enc)
	})
	if err != nil {
		return 0, fmt.Errorf("append checkpoint for %s: %w", sessionID, err)
	}
	return int64(seq), nil
}

// Latest returns the newest checkpoint of the session, or nil.
func (b *BoltCheckpoints) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	cps, err := b.List(ctx, sessionID, 1)
	if err != nil || len(cps) == 0 {
		return nil, err
	}
	return &cps[0], nil
}

// List returns up to limit checkpoints, newest first.
func (b *BoltCheckpoints) List(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Checkpoint
	err := b.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(checkpointsBucket).Bucket([]byte(sessionID))
		if sb == nil {
			return nil
		}
		c := sb.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode checkpoint %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, domain.Checkpoint{
				SessionID: sessionID,
				Seq:       int64(binary.BigEndian.Uint64(k)),
				Snapshot:  rec.Snapshot,
				CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for %s: %w", sessionID, err)
	}
	return out, nil
}

// DeleteSession removes the session's bucket.
func (b *BoltCheckpoints) DeleteSession(_ context.Context, sessionID string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(checkpointsBucket).DeleteBucket([]byte(sessionID))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("delete checkpoints for %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the bolt file.
func (b *BoltCheckpoints) Close() error {
	return b.db.Close()
}
