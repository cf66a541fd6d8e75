package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stablemarket/storage"
)

// ErrClosedOverlay is returned when an overlay is used after Commit or Discard.
var ErrClosedOverlay = errors.New("state: overlay already closed")

type pending struct {
	value   []byte
	deleted bool
}

// Manager provides keyed, RLP-encoded access to marketplace state. A root
// manager reads and writes the backing database directly. Overlays created by
// Begin buffer their writes until Commit folds them into the parent, so a
// failed operation can be dropped wholesale with Discard.
type Manager struct {
	db     storage.Database
	parent *Manager

	mu     sync.RWMutex
	writes map[string]pending
	closed bool
}

// NewManager creates a root state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write overlay on top of the manager.
func (m *Manager) Begin() *Manager {
	return &Manager{db: m.db, parent: m, writes: make(map[string]pending)}
}

// IsOverlay reports whether the manager buffers writes for a parent.
func (m *Manager) IsOverlay() bool { return m.parent != nil }

// Commit applies the overlay's writes to its parent. Overlays on a root
// manager are flushed as a single storage batch.
func (m *Manager) Commit() error {
	if m.parent == nil {
		return fmt.Errorf("state: commit on root manager")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosedOverlay
	}
	m.closed = true
	keys := make([]string, 0, len(m.writes))
	for k := range m.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if m.parent.parent != nil {
		m.parent.mu.Lock()
		defer m.parent.mu.Unlock()
		if m.parent.closed {
			return ErrClosedOverlay
		}
		for _, k := range keys {
			m.parent.writes[k] = m.writes[k]
		}
		m.writes = nil
		return nil
	}

	batch := m.db.NewBatch()
	for _, k := range keys {
		w := m.writes[k]
		if w.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
	m.writes = nil
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

// Discard drops every buffered write. Discarding a committed overlay is a no-op.
func (m *Manager) Discard() {
	if m.parent == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.writes = nil
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if m.parent == nil {
		data, err := m.db.Get(hashed)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return data, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosedOverlay
	}
	w, ok := m.writes[string(hashed)]
	m.mu.RUnlock()
	if ok {
		if w.deleted {
			return nil, nil
		}
		return append([]byte(nil), w.value...), nil
	}
	return m.parent.get(hashed)
}

func (m *Manager) put(hashed, value []byte) error {
	if m.parent == nil {
		return m.db.Put(hashed, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosedOverlay
	}
	m.writes[string(hashed)] = pending{value: append([]byte(nil), value...)}
	return nil
}

func (m *Manager) del(hashed []byte) error {
	if m.parent == nil {
		return m.db.Delete(hashed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosedOverlay
	}
	m.writes[string(hashed)] = pending{deleted: true}
	return nil
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 so every record has a fixed-width key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.del(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.put(hashed, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
