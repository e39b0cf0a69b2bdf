// Package store holds the key material lookup and the record of
// provisioned devices.
package store

import (
	"errors"
	"sync"
)

// ErrNoSerial is returned when recording a result without a serial number.
var ErrNoSerial = errors.New("serial number required")

// KeyStore looks up the key assigned to a serial number.
type KeyStore interface {
	// LookupKey returns the key and true, or false when there is none.
	LookupKey(serial string) (string, bool, error)
}

// ResultStore records provisioned devices.
type ResultStore interface {
	RecordSuccess(serial, key, id string) error
}

// Record is one provisioned device.
type Record struct {
	SerialNumber string
	Key          string
	ID           string
}

// MemoryKeyStore is a KeyStore backed by a map.
type MemoryKeyStore struct {
	keys map[string]string
	mu   sync.RWMutex
}

// NewMemoryKeyStore creates a MemoryKeyStore holding keys by serial number.
func NewMemoryKeyStore(keys map[string]string) *MemoryKeyStore {
	s := &MemoryKeyStore{keys: make(map[string]string, len(keys))}
	for serial, key := range keys {
		s.keys[serial] = key
	}
	return s
}

// LookupKey implements KeyStore.
func (s *MemoryKeyStore) LookupKey(serial string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[serial]
	return key, ok, nil
}

// MemoryResultStore is a ResultStore kept in memory.
type MemoryResultStore struct {
	records []Record
	mu      sync.Mutex
}

// NewMemoryResultStore creates an empty MemoryResultStore.
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{}
}

// RecordSuccess implements ResultStore.
func (s *MemoryResultStore) RecordSuccess(serial, key, id string) error {
	if serial == "" {
		return ErrNoSerial
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{SerialNumber: serial, Key: key, ID: id})
	return nil
}

// Records returns a copy of what was recorded.
func (s *MemoryResultStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}
