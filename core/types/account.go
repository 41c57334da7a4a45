package types

import "math/big"

// Account tracks per-party balances for the assets known to the node. The
// ledger is the authoritative source for the Value Transfer primitive; the
// settlement engine only ever moves balances through it.
type Account struct {
	Nonce    uint64
	Balances map[string]*big.Int
}

// NewAccount returns an account with an empty balance table.
func NewAccount() *Account {
	return &Account{Balances: make(map[string]*big.Int)}
}

// BalanceOf returns the balance held for the asset, never nil.
func (a *Account) BalanceOf(asset string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[asset]; ok && bal != nil {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// SetBalance stores the balance for the asset, cloning the value.
func (a *Account) SetBalance(asset string, amount *big.Int) {
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[asset] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[string]*big.Int, len(a.Balances))}
	for asset, bal := range a.Balances {
		if bal == nil {
			bal = big.NewInt(0)
		}
		clone.Balances[asset] = new(big.Int).Set(bal)
	}
	return clone
}
