package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/handlegate/internal/claims/domain"
)

var (
	bucketClaims   = []byte("claims")
	bucketActivity = []byte("activity")
)

// DefaultPageSize bounds how many keys one read transaction visits while
// streaming, so long scans never pin a single transaction.
const DefaultPageSize = 512

// record is the stored value of a claim, keyed by its normalized token.
type record struct {
	ID           string    `json:"id"`
	Display      string    `json:"display"`
	Owner        string    `json:"owner,omitempty"`
	ClaimedAt    time.Time `json:"claimed_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Store is an embedded authoritative store. bbolt serializes read-write
// transactions, so the put-if-absent in Insert admits exactly one winner.
type Store struct {
	db       *bbolt.DB
	pageSize int
}

// Open opens (or creates) a Bolt database at path and ensures buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketClaims); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketActivity); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, pageSize: DefaultPageSize}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Exists(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("exists", err)
	}
	var present bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		present = tx.Bucket(bucketClaims).Get([]byte(token)) != nil
		return nil
	})
	if err != nil {
		return false, unavailable("exists", err)
	}
	return present, nil
}

// Insert stores c unless its identifier is already present, in which case
// it returns domain.ErrConflict.
func (s *Store) Insert(ctx context.Context, c domain.Claim) error {
	if err := ctx.Err(); err != nil {
		return unavailable("insert", err)
	}
	val, err := json.Marshal(record{
		ID:           c.ID.String(),
		Display:      c.Display,
		Owner:        c.Owner,
		ClaimedAt:    c.ClaimedAt,
		LastActiveAt: c.LastActiveAt,
	})
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	key := []byte(c.Identifier)
	err = s.db.Update(func(tx *bbolt.Tx) error {
		claims := tx.Bucket(bucketClaims)
		if claims.Get(key) != nil {
			return domain.ErrConflict
		}
		if err := claims.Put(key, val); err != nil {
			return err
		}
		return tx.Bucket(bucketActivity).Put(activityKey(c.LastActiveAt, c.Identifier), nil)
	})
	if errors.Is(err, domain.ErrConflict) {
		return err
	}
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// Touch records activity for token at the given time, moving its entry in
// the activity index. It returns domain.ErrNotFound for unclaimed tokens.
func (s *Store) Touch(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return unavailable("touch", err)
	}
	at = at.UTC()
	key := []byte(token)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		claims := tx.Bucket(bucketClaims)
		raw := claims.Get(key)
		if raw == nil {
			return domain.ErrNotFound
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode claim %q: %w", token, err)
		}
		activity := tx.Bucket(bucketActivity)
		if err := activity.Delete(activityKey(rec.LastActiveAt, token)); err != nil {
			return err
		}
		rec.LastActiveAt = at
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := claims.Put(key, val); err != nil {
			return err
		}
		return activity.Put(activityKey(at, token), nil)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil {
		return unavailable("touch", err)
	}
	return nil
}

// StreamAll visits every claimed token in key order, one page per read
// transaction.
func (s *Store) StreamAll(ctx context.Context, visit func(token string) error) error {
	return s.scan(ctx, bucketClaims, nil, func(k []byte) (string, bool) {
		return string(k), true
	}, visit)
}

// StreamActiveSince visits tokens whose last activity is at or after since,
// oldest first, using the activity index.
func (s *Store) StreamActiveSince(ctx context.Context, since time.Time, visit func(token string) error) error {
	return s.scan(ctx, bucketActivity, activityPrefix(since), func(k []byte) (string, bool) {
		if len(k) < 8 {
			return "", false
		}
		return string(k[8:]), true
	}, visit)
}

// scan walks bucket from start in pages of s.pageSize keys. Each page runs
// in its own read transaction; the next page resumes after the last key.
func (s *Store) scan(ctx context.Context, bucket, start []byte, decode func([]byte) (string, bool), visit func(string) error) error {
	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return unavailable("stream", err)
		}
		page := make([]string, 0, s.pageSize)
		err := s.db.View(func(tx *bbolt.Tx) error {
			c := tx.Bucket(bucket).Cursor()
			var k []byte
			switch {
			case after != nil:
				k, _ = c.Seek(after)
				if k != nil && bytes.Equal(k, after) {
					k, _ = c.Next()
				}
			case start != nil:
				k, _ = c.Seek(start)
			default:
				k, _ = c.First()
			}
			for ; k != nil && len(page) < s.pageSize; k, _ = c.Next() {
				if tok, ok := decode(k); ok {
					page = append(page, tok)
				}
				after = append(after[:0], k...)
			}
			return nil
		})
		if err != nil {
			return unavailable("stream", err)
		}
		for _, tok := range page {
			if err := visit(tok); err != nil {
				return err
			}
		}
		if len(page) < s.pageSize {
			return nil
		}
	}
}

// activityKey orders the activity index by time, then token.
func activityKey(at time.Time, token string) []byte {
	k := activityPrefix(at)
	return append(k, token...)
}

func activityPrefix(at time.Time) []byte {
	k := make([]byte, 8, 8+32)
	binary.BigEndian.PutUint64(k, uint64(at.UnixNano()))
	return k
}

func unavailable(op string, err error) error {
	return fmt.Errorf("bolt %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
