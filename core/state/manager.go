package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"custodia/storage"
)

// Manager provides typed reads and writes over the raw key-value store. All
// keys are hashed before hitting the store so callers never depend on key
// layout; all stored structs go through RLP.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
// The database is typically a storage.Overlay so a failed operation can be
// discarded wholesale.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func hashKey(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) loadRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %T: %w", out, err)
	}
	return true, nil
}

func (m *Manager) writeRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %T: %w", value, err)
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, fmt.Errorf("state: decode counter: %w", err)
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, value *big.Int) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode counter: %w", err)
	}
	return m.db.Put(key, encoded)
}
