package migration

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"lendmigrate/storage"
)

var feeRecordKey = []byte("migration/fee-rate")

// FeeRecord is the persisted platform fee configuration.
type FeeRecord struct {
	RateBps   uint64
	UpdatedBy common.Address
	UpdatedAt uint64
}

// FeeStore persists the platform fee rate across restarts.
type FeeStore interface {
	// LoadFee returns the stored record. The boolean is false when nothing has
	// been stored yet.
	LoadFee() (FeeRecord, bool, error)
	StoreFee(FeeRecord) error
}

// KVFeeStore keeps the fee record RLP-encoded in a key-value database.
type KVFeeStore struct {
	db storage.Database
}

// NewKVFeeStore wraps db.
func NewKVFeeStore(db storage.Database) *KVFeeStore {
	return &KVFeeStore{db: db}
}

// LoadFee implements FeeStore.
func (s *KVFeeStore) LoadFee() (FeeRecord, bool, error) {
	if s == nil || s.db == nil {
		return FeeRecord{}, false, nil
	}
	raw, err := s.db.Get(feeRecordKey)
	if errors.Is(err, storage.ErrNotFound) {
		return FeeRecord{}, false, nil
	}
	if err != nil {
		return FeeRecord{}, false, fmt.Errorf("migration: load fee: %w", err)
	}
	var record FeeRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return FeeRecord{}, false, fmt.Errorf("migration: decode fee record: %w", err)
	}
	return record, true, nil
}

// StoreFee implements FeeStore.
func (s *KVFeeStore) StoreFee(record FeeRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	raw, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("migration: encode fee record: %w", err)
	}
	return s.db.Put(feeRecordKey, raw)
}
