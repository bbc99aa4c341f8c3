package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/nexi-lab/nexus/internal/rebac/rebacerr"
	"github.com/nexi-lab/nexus/internal/rebac/tuple"
)

var (
	bucketTuples     = []byte("tuples")
	bucketByObject   = []byte("tuples_by_object")
	bucketBySubject  = []byte("tuples_by_subject")
	bucketUniqueKeys = []byte("tuples_unique")
	bucketRevisions  = []byte("zone_revisions")
	bucketChangelog  = []byte("zone_changelog")
)

// BoltTupleStore implements TupleStore using go.etcd.io/bbolt, following
// the teacher's BoltStore: one db.Update/db.View per operation, a bucket
// per concern, JSON-encoded values (pkg/storage/boltdb.go).
type BoltTupleStore struct {
	db *bolt.DB
}

// NewBoltTupleStore opens (or creates) a bbolt-backed tuple store under dataDir.
func NewBoltTupleStore(dataDir string) (*BoltTupleStore, error) {
	dbPath := filepath.Join(dataDir, "nexus.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, rebacerr.StorageUnavailable("open %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketTuples, bucketByObject, bucketBySubject,
			bucketUniqueKeys, bucketRevisions, bucketChangelog,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, rebacerr.StorageUnavailable("initialize buckets")
	}

	return &BoltTupleStore{db: db}, nil
}

func (s *BoltTupleStore) Close() error {
	return s.db.Close()
}

func subjectKey(s tuple.Subject) string {
	return s.Type + "\x00" + s.ID + "\x00" + s.Relation
}

func objectPrefix(zone tuple.Zone, object tuple.Object) []byte {
	return []byte(string(zone) + "\x00" + object.Type + "\x00" + object.ID + "\x00")
}

func subjectPrefix(zone tuple.Zone, subject tuple.Subject) []byte {
	return []byte(string(zone) + "\x00" + subjectKey(subject) + "\x00")
}

func byObjectKey(t tuple.Tuple) []byte {
	return []byte(string(t.Zone) + "\x00" + t.Object.Type + "\x00" + t.Object.ID + "\x00" +
		t.Relation + "\x00" + subjectKey(t.Subject) + "\x00" + t.ID)
}

func bySubjectKey(t tuple.Tuple) []byte {
	return []byte(string(t.Zone) + "\x00" + subjectKey(t.Subject) + "\x00" +
		t.Relation + "\x00" + t.Object.Type + "\x00" + t.Object.ID + "\x00" + t.ID)
}

func uniqueKeyFor(zone tuple.Zone, key string) []byte {
	return []byte(string(zone) + "\x00" + key)
}

func revisionValue(version uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, version)
	return buf
}

func revisionFromBytes(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func changelogKey(zone tuple.Zone, version uint64) []byte {
	return append([]byte(string(zone)+"\x00"), revisionValue(version)...)
}

// Write implements TupleStore.
func (s *BoltTupleStore) Write(t tuple.Tuple) (tuple.Tuple, error) {
	if t.Subject.Type == "" || (t.Subject.ID == "" && !t.Subject.IsPublic()) {
		return tuple.Tuple{}, rebacerr.InvalidSubject("write: subject type=%q id=%q", t.Subject.Type, t.Subject.ID)
	}
	if t.Object.Type == "" || t.Object.ID == "" {
		return tuple.Tuple{}, rebacerr.InvalidObject("write: object type=%q id=%q", t.Object.Type, t.Object.ID)
	}

	var result tuple.Tuple
	err := s.db.Update(func(tx *bolt.Tx) error {
		unique := tx.Bucket(bucketUniqueKeys)
		uKey := uniqueKeyFor(t.Zone, t.UniqueKey())

		if existingID := unique.Get(uKey); existingID != nil {
			existing, err := getTupleTx(tx, string(existingID))
			if err != nil {
				return err
			}
			result = existing
			return nil
		}

		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.CreatedAt = time.Now().UTC()

		rev := tx.Bucket(bucketRevisions)
		newVersion := revisionFromBytes(rev.Get([]byte(t.Zone))) + 1
		if err := rev.Put([]byte(t.Zone), revisionValue(newVersion)); err != nil {
			return err
		}

		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTuples).Put([]byte(t.ID), data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByObject).Put(byObjectKey(t), []byte(t.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBySubject).Put(bySubjectKey(t), []byte(t.ID)); err != nil {
			return err
		}
		if err := unique.Put(uKey, []byte(t.ID)); err != nil {
			return err
		}

		change := Change{Version: newVersion, Op: ChangeCreate, Tuple: t}
		changeData, err := json.Marshal(change)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketChangelog).Put(changelogKey(t.Zone, newVersion), changeData); err != nil {
			return err
		}

		result = t
		return nil
	})
	if err != nil {
		return tuple.Tuple{}, rebacerr.StorageUnavailable("write tuple")
	}
	return result, nil
}

// Delete implements TupleStore.
func (s *BoltTupleStore) Delete(zone tuple.Zone, subject tuple.Subject, relation string, object tuple.Object) error {
	key := tuple.Tuple{Zone: zone, Subject: subject, Relation: relation, Object: object}.UniqueKey()

	err := s.db.Update(func(tx *bolt.Tx) error {
		unique := tx.Bucket(bucketUniqueKeys)
		uKey := uniqueKeyFor(zone, key)

		tupleID := unique.Get(uKey)
		if tupleID == nil {
			return rebacerr.NotFound("delete: no tuple for key in zone %s", string(zone))
		}

		t, err := getTupleTx(tx, string(tupleID))
		if err != nil {
			return err
		}

		rev := tx.Bucket(bucketRevisions)
		newVersion := revisionFromBytes(rev.Get([]byte(zone))) + 1
		if err := rev.Put([]byte(zone), revisionValue(newVersion)); err != nil {
			return err
		}

		if err := tx.Bucket(bucketTuples).Delete(tupleID); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByObject).Delete(byObjectKey(t)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBySubject).Delete(bySubjectKey(t)); err != nil {
			return err
		}
		if err := unique.Delete(uKey); err != nil {
			return err
		}

		change := Change{Version: newVersion, Op: ChangeDelete, Tuple: t}
		changeData, err := json.Marshal(change)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketChangelog).Put(changelogKey(zone, newVersion), changeData)
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return err
		}
		return rebacerr.StorageUnavailable("delete tuple")
	}
	return nil
}

func getTupleTx(tx *bolt.Tx, tupleID string) (tuple.Tuple, error) {
	data := tx.Bucket(bucketTuples).Get([]byte(tupleID))
	if data == nil {
		return tuple.Tuple{}, rebacerr.NotFound("tuple %s vanished", tupleID)
	}
	var t tuple.Tuple
	if err := json.Unmarshal(data, &t); err != nil {
		return tuple.Tuple{}, err
	}
	return t, nil
}

// ReadByObject implements TupleStore.
func (s *BoltTupleStore) ReadByObject(zone tuple.Zone, object tuple.Object, relation string) ([]tuple.Tuple, error) {
	var out []tuple.Tuple
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByObject).Cursor()
		prefix := objectPrefix(zone, object)
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			t, err := getTupleTx(tx, string(v))
			if err != nil {
				return err
			}
			if relation == "" || t.Relation == relation {
				out = append(out, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, rebacerr.StorageUnavailable("read by object")
	}
	return out, nil
}

// ReadBySubject implements TupleStore.
func (s *BoltTupleStore) ReadBySubject(zone tuple.Zone, subject tuple.Subject, relation string) ([]tuple.Tuple, error) {
	var out []tuple.Tuple
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBySubject).Cursor()
		prefix := subjectPrefix(zone, subject)
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			t, err := getTupleTx(tx, string(v))
			if err != nil {
				return err
			}
			if relation == "" || t.Relation == relation {
				out = append(out, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, rebacerr.StorageUnavailable("read by subject")
	}
	return out, nil
}

// CurrentVersion implements TupleStore.
func (s *BoltTupleStore) CurrentVersion(zone tuple.Zone) (uint64, error) {
	var version uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		version = revisionFromBytes(tx.Bucket(bucketRevisions).Get([]byte(zone)))
		return nil
	})
	if err != nil {
		return 0, rebacerr.StorageUnavailable("read current version")
	}
	return version, nil
}

// ReadSince implements TupleStore.
func (s *BoltTupleStore) ReadSince(zone tuple.Zone, fromVersion uint64) ([]Change, error) {
	var out []Change
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketChangelog).Cursor()
		prefix := []byte(string(zone) + "\x00")
		seekFrom := changelogKey(zone, fromVersion+1)
		for k, v := c.Seek(seekFrom); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var change Change
			if err := json.Unmarshal(v, &change); err != nil {
				return err
			}
			out = append(out, change)
		}
		return nil
	})
	if err != nil {
		return nil, rebacerr.StorageUnavailable("read changelog")
	}
	return out, nil
}

// ResetZone implements TupleStore.
func (s *BoltTupleStore) ResetZone(zone tuple.Zone) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		objC := tx.Bucket(bucketByObject).Cursor()
		objPrefix := []byte(string(zone) + "\x00")
		var tupleIDs [][]byte
		for k, v := objC.Seek(objPrefix); k != nil && strings.HasPrefix(string(k), string(objPrefix)); k, v = objC.Next() {
			tupleIDs = append(tupleIDs, append([]byte(nil), v...))
		}

		for _, id := range tupleIDs {
			t, err := getTupleTx(tx, string(id))
			if err != nil {
				continue
			}
			_ = tx.Bucket(bucketTuples).Delete(id)
			_ = tx.Bucket(bucketByObject).Delete(byObjectKey(t))
			_ = tx.Bucket(bucketBySubject).Delete(bySubjectKey(t))
			_ = tx.Bucket(bucketUniqueKeys).Delete(uniqueKeyFor(zone, t.UniqueKey()))
		}

		changeC := tx.Bucket(bucketChangelog).Cursor()
		var changeKeys [][]byte
		for k, _ := changeC.Seek(objPrefix); k != nil && strings.HasPrefix(string(k), string(objPrefix)); k, _ = changeC.Next() {
			changeKeys = append(changeKeys, append([]byte(nil), k...))
		}
		for _, k := range changeKeys {
			_ = tx.Bucket(bucketChangelog).Delete(k)
		}

		return tx.Bucket(bucketRevisions).Delete([]byte(zone))
	})
	if err != nil {
		return rebacerr.StorageUnavailable("reset zone")
	}
	return nil
}
