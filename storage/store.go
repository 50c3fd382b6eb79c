package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"

	"drems/native/bridge"
	"drems/native/collateral"
	"drems/native/rent"
	"drems/native/schedule"
	"drems/native/valuation"
)

var (
	bucketTransfers  = []byte("bridge_transfers")
	bucketRent       = []byte("rent_records")
	bucketSchedules  = []byte("schedules")
	bucketPositions  = []byte("positions")
	bucketAccounts   = []byte("accounts")
	bucketValuations = []byte("valuations")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// Store is the BoltDB-backed persistence layer. It satisfies the store
// interfaces of the bridge, rent, schedule and collateral modules, so one
// database file carries the whole accounting state.
type Store struct {
	db *bolt.DB
}

// NewStore opens (and migrates) the database at path.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTransfers, bucketRent, bucketSchedules, bucketPositions, bucketAccounts, bucketValuations} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func getJSON(tx *bolt.Tx, bucket, key []byte, out interface{}) (bool, error) {
	raw := tx.Bucket(bucket).Get(key)
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func putJSON(tx *bolt.Tx, bucket, key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put(key, raw)
}

// GetTransfer implements bridge.Store.
func (s *Store) GetTransfer(messageID common.Hash) (*bridge.TransferRequest, bool, error) {
	var record bridge.TransferRequest
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(tx, bucketTransfers, messageID.Bytes(), &record)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// PutTransfer implements bridge.Store.
func (s *Store) PutTransfer(record *bridge.TransferRequest) error {
	if record == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketTransfers, record.MessageID.Bytes(), record)
	})
}

// Mutate implements bridge.Store. The read-modify-write runs inside one bolt
// Update transaction, which serialises concurrent delivery notifications for
// the same message.
func (s *Store) Mutate(messageID common.Hash, fn func(*bridge.TransferRequest) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var record bridge.TransferRequest
		ok, err := getJSON(tx, bucketTransfers, messageID.Bytes(), &record)
		if err != nil {
			return err
		}
		if !ok {
			return bridge.ErrUnknownMessage
		}
		if err := fn(&record); err != nil {
			return err
		}
		return putJSON(tx, bucketTransfers, messageID.Bytes(), &record)
	})
}

func rentKey(propertyID, periodKey string) []byte {
	return []byte(propertyID + "/" + periodKey)
}

// GetRecord implements rent.Store.
func (s *Store) GetRecord(propertyID, periodKey string) (*rent.PeriodRecord, bool, error) {
	var record rent.PeriodRecord
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(tx, bucketRent, rentKey(propertyID, periodKey), &record)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// PutRecord implements rent.Store with replace semantics per (property, period).
func (s *Store) PutRecord(record *rent.PeriodRecord) error {
	if record == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketRent, rentKey(record.PropertyID, record.PeriodKey), record)
	})
}

// GetSchedule implements schedule.Store.
func (s *Store) GetSchedule(propertyID string) (*schedule.Schedule, bool, error) {
	var sched schedule.Schedule
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(tx, bucketSchedules, []byte(propertyID), &sched)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &sched, true, nil
}

// PutSchedule implements schedule.Store.
func (s *Store) PutSchedule(sched *schedule.Schedule) error {
	if sched == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketSchedules, []byte(sched.PropertyID), sched)
	})
}

// ListSchedules implements schedule.Store.
func (s *Store) ListSchedules() ([]*schedule.Schedule, error) {
	var out []*schedule.Schedule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(_, raw []byte) error {
			var sched schedule.Schedule
			if err := json.Unmarshal(raw, &sched); err != nil {
				return err
			}
			out = append(out, &sched)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func positionKey(owner, token common.Address) []byte {
	key := make([]byte, 0, common.AddressLength*2)
	key = append(key, owner.Bytes()...)
	key = append(key, token.Bytes()...)
	return key
}

// GetPosition implements collateral.Ledger. A missing position yields nil.
func (s *Store) GetPosition(owner, token common.Address) (*collateral.Position, error) {
	var position collateral.Position
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(tx, bucketPositions, positionKey(owner, token), &position)
		return err
	})
	if err != nil || !ok {
		return nil, err
	}
	return &position, nil
}

// PutPosition implements collateral.Ledger.
func (s *Store) PutPosition(position *collateral.Position) error {
	if position == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketPositions, positionKey(position.Owner, position.PropertyToken), position)
	})
}

// GetAccount implements collateral.Ledger. A missing account yields nil.
func (s *Store) GetAccount(addr common.Address) (*collateral.Account, error) {
	var account collateral.Account
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(tx, bucketAccounts, addr.Bytes(), &account)
		return err
	})
	if err != nil || !ok {
		return nil, err
	}
	return &account, nil
}

// PutAccount implements collateral.Ledger.
func (s *Store) PutAccount(account *collateral.Account) error {
	if account == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketAccounts, account.Address.Bytes(), account)
	})
}

// GetValuation returns the latest stored valuation for a property.
func (s *Store) GetValuation(propertyID string) (*valuation.PropertyValuation, bool, error) {
	var record valuation.PropertyValuation
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = getJSON(tx, bucketValuations, []byte(propertyID), &record)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &record, true, nil
}

// PutValuation replaces the stored valuation for its property.
func (s *Store) PutValuation(record *valuation.PropertyValuation) error {
	if record == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketValuations, []byte(record.PropertyID), record)
	})
}
