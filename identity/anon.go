package identity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"go.etcd.io/bbolt"
)

const anonBucket = "anon_ids"

// DefaultAnonTTL matches the multi-hour expiry of the storefront's
// anonymous-session cookie.
const DefaultAnonTTL = 6 * time.Hour

// AnonStore persists anonymous participant ids per origin, the
// engine-side equivalent of the widget's cookie-backed id: the same
// visitor keeps the same id across reloads until the TTL passes.
type AnonStore struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time
}

type anonRecord struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// OpenAnonStore opens or creates the id database at path. A zero ttl
// means DefaultAnonTTL.
func OpenAnonStore(path string, ttl time.Duration) (*AnonStore, error) {
	if ttl <= 0 {
		ttl = DefaultAnonTTL
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(anonBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &AnonStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *AnonStore) Close() error {
	return s.db.Close()
}

// ID returns the stored anonymous id for an origin, minting a fresh
// one when none exists or the stored one expired.
func (s *AnonStore) ID(origin string) (ID, error) {
	var value string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(anonBucket))
		if raw := b.Get([]byte(origin)); raw != nil {
			var rec anonRecord
			if err := json.Unmarshal(raw, &rec); err == nil && s.now().Unix() < rec.ExpiresAt {
				value = rec.ID
				return nil
			}
		}

		rec := anonRecord{
			ID:        newAnonID(),
			ExpiresAt: s.now().Add(s.ttl).Unix(),
		}
		raw, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(origin), raw); err != nil {
			return err
		}
		glog.V(5).Infof("minted anonymous id for origin %s", origin)
		value = rec.ID
		return nil
	})
	if err != nil {
		return ID{}, err
	}
	return ID{Value: value, Kind: KindAnonymous}, nil
}

// Resolver binds the store to one origin.
func (s *AnonStore) Resolver(origin string) Resolver {
	return &anonResolver{store: s, origin: origin}
}

type anonResolver struct {
	store  *AnonStore
	origin string
}

func (r *anonResolver) Resolve() (ID, error) {
	return r.store.ID(r.origin)
}

func newAnonID() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}
