package state

import (
	"fmt"
	"math/big"

	"custodia/native/settlement"
)

func depositKey(depositor, withdrawer [20]byte, asset string) []byte {
	buf := make([]byte, 40+len(asset))
	copy(buf, depositor[:])
	copy(buf[20:], withdrawer[:])
	copy(buf[40:], asset)
	return hashKey(depositPrefix, buf)
}

type storedDeposit struct {
	Depositor  [20]byte
	Withdrawer [20]byte
	Asset      string
	Amount     *big.Int
	CreatedAt  *big.Int
	UnlocksAt  *big.Int
}

// DepositPut persists a timelock deposit under its (depositor, withdrawer,
// asset) key.
func (m *Manager) DepositPut(d *settlement.Deposit) error {
	if d == nil {
		return fmt.Errorf("state: nil deposit")
	}
	stored := &storedDeposit{
		Depositor:  d.Depositor,
		Withdrawer: d.Withdrawer,
		Asset:      d.Asset,
		Amount:     cloneOrZero(d.Amount),
		CreatedAt:  big.NewInt(d.CreatedAt),
		UnlocksAt:  big.NewInt(d.UnlocksAt),
	}
	return m.writeRLP(depositKey(d.Depositor, d.Withdrawer, d.Asset), stored)
}

// DepositGet loads the live deposit for the triple, if any.
func (m *Manager) DepositGet(depositor, withdrawer [20]byte, asset string) (*settlement.Deposit, bool, error) {
	var stored storedDeposit
	ok, err := m.loadRLP(depositKey(depositor, withdrawer, asset), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &settlement.Deposit{
		Depositor:  stored.Depositor,
		Withdrawer: stored.Withdrawer,
		Asset:      stored.Asset,
		Amount:     cloneOrZero(stored.Amount),
		CreatedAt:  toInt64(stored.CreatedAt),
		UnlocksAt:  toInt64(stored.UnlocksAt),
	}, true, nil
}

// DepositDelete removes a settled deposit. Removal is the terminal state of
// a deposit; there is no tombstone.
func (m *Manager) DepositDelete(depositor, withdrawer [20]byte, asset string) error {
	return m.db.Delete(depositKey(depositor, withdrawer, asset))
}
