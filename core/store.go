package core

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// KVStore is the account-data substrate the host runtime exposes to the
// program: every Vault, ReservationLedger, StreamRecord, MultisigGroup and
// TransferProposal is a byte-addressed cell inside it. The core never talks
// to disk directly -- persistence, rent and storage-cell lifetime belong to
// the host (see spec §1, out of scope); this interface is the seam.
type KVStore interface {
	Get(key []byte) ([]byte, bool)
	Set(key, value []byte) error
	Delete(key []byte) error
	Iterator(prefix []byte) Iterator
}

// Iterator walks every key sharing a prefix, in sorted order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close()
}

// MemStore is the reference KVStore: a single-writer, mutex-guarded map.
// Section 5 of the spec establishes that the host runtime already serializes
// every instruction touching overlapping cells, so MemStore's lock exists
// only to satisfy the race detector under concurrent tests, not to provide
// its own ordering guarantee.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (s *MemStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[string(key)] = cp
	return nil
}

func (s *MemStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

type memIterator struct {
	keys   []string
	values [][]byte
	index  int
}

func (it *memIterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

func (it *memIterator) Key() []byte   { return []byte(it.keys[it.index]) }
func (it *memIterator) Value() []byte { return it.values[it.index] }
func (it *memIterator) Close()        {}

func (s *MemStore) Iterator(prefix []byte) Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = s.data[k]
	}
	return &memIterator{keys: keys, values: values, index: -1}
}

// cellKey namespaces a derived address under a cell kind so that distinct
// record families never collide inside the flat KVStore keyspace.
func cellKey(namespace string, addr PublicKey) []byte {
	return []byte(fmt.Sprintf("%s:%s", namespace, addr.Hex()))
}
