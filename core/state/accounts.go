package state

import (
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"custodia/core/types"
	"custodia/native/settlement"
)

// storedAccount is the RLP shape of an account. RLP has no map type, so
// balances are flattened into a slice sorted by asset symbol for a stable
// encoding.
type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

type storedBalance struct {
	Asset  string
	Amount *big.Int
}

func accountKey(addr [20]byte) []byte {
	return hashKey(accountPrefix, addr[:])
}

func newStoredAccount(acc *types.Account) *storedAccount {
	stored := &storedAccount{Nonce: acc.Nonce}
	assets := make([]string, 0, len(acc.Balances))
	for asset := range acc.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		amount := acc.Balances[asset]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		stored.Balances = append(stored.Balances, storedBalance{
			Asset:  asset,
			Amount: new(big.Int).Set(amount),
		})
	}
	return stored
}

func (s *storedAccount) toAccount() *types.Account {
	acc := &types.Account{Nonce: s.Nonce, Balances: make(map[string]*big.Int, len(s.Balances))}
	for _, b := range s.Balances {
		amount := big.NewInt(0)
		if b.Amount != nil {
			amount = new(big.Int).Set(b.Amount)
		}
		acc.Balances[b.Asset] = amount
	}
	return acc
}

// GetAccount loads the account for the address. A missing account is an
// empty account, never an error.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.loadRLP(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balances: make(map[string]*big.Int)}, nil
	}
	return stored.toAccount(), nil
}

// PutAccount persists the account for the address.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	if acc == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.writeRLP(accountKey(addr), newStoredAccount(acc))
}

// Credit adds amount to the address's balance for the asset. Used by
// genesis allocation and faucet tooling.
func (m *Manager) Credit(addr [20]byte, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return settlement.ErrInvalidAmount
	}
	acc, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	balance := acc.BalanceOf(asset)
	acc.SetBalance(asset, balance.Add(balance, amount))
	return m.PutAccount(addr, acc)
}

// Transfer moves amount of asset between two addresses, failing without
// side effects when the source balance is insufficient.
func (m *Manager) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return settlement.ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("state: transfer to self")
	}
	src, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	balance := src.BalanceOf(asset)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", settlement.ErrInsufficientBalance, asset, balance, amount)
	}
	dst, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	src.SetBalance(asset, balance.Sub(balance, amount))
	dstBalance := dst.BalanceOf(asset)
	dst.SetBalance(asset, dstBalance.Add(dstBalance, amount))
	if err := m.PutAccount(from, src); err != nil {
		return err
	}
	return m.PutAccount(to, dst)
}

// VaultAddress derives the deterministic custody address for an asset. No
// key material exists for vault addresses; funds there move only through
// engine operations.
func (m *Manager) VaultAddress(asset string) ([20]byte, error) {
	normalized, err := settlement.NormalizeAsset(asset)
	if err != nil {
		return [20]byte{}, err
	}
	hash := ethcrypto.Keccak256(append(append([]byte{}, vaultSeed...), normalized...))
	var addr [20]byte
	copy(addr[:], hash[len(hash)-20:])
	return addr, nil
}
