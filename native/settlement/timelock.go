package settlement

import (
	"fmt"
	"math/big"
	"time"

	"custodia/core/events"
	"custodia/core/types"
)

// DefaultLockDuration and DefaultClawbackDelay govern timelock deposits
// when the node configuration does not override them.
const (
	DefaultLockDuration  int64 = 24 * 60 * 60
	DefaultClawbackDelay int64 = 30 * 24 * 60 * 60
)

// Deposit is a timelocked grant from a depositor to a withdrawer. Deposits
// are keyed by (depositor, withdrawer, asset); settling a deposit removes
// the stored entry, which is the terminal state.
type Deposit struct {
	Depositor  [20]byte
	Withdrawer [20]byte
	Asset      string
	Amount     *big.Int
	CreatedAt  int64
	UnlocksAt  int64
}

// Clone returns a deep copy of the deposit.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Amount = cloneBigInt(d.Amount)
	return &clone
}

// vaultState is the persistence surface the timelock vault consumes.
type vaultState interface {
	DepositPut(*Deposit) error
	DepositGet(depositor, withdrawer [20]byte, asset string) (*Deposit, bool, error)
	DepositDelete(depositor, withdrawer [20]byte, asset string) error
	VaultAddress(asset string) ([20]byte, error)
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
}

// Vault implements timelocked one-way custody: deposit now, withdraw after
// the lock elapses, claw back to the depositor only after an additional
// grace period protecting the withdrawer.
type Vault struct {
	state         vaultState
	emitter       events.Emitter
	lockDuration  int64
	clawbackDelay int64
	nowFn         func() int64
}

// NewVault creates a timelock vault with default durations and a no-op
// emitter.
func NewVault() *Vault {
	return &Vault{
		emitter:       events.NoopEmitter{},
		lockDuration:  DefaultLockDuration,
		clawbackDelay: DefaultClawbackDelay,
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the vault.
func (v *Vault) SetState(state vaultState) { v.state = state }

// SetLockDuration overrides the lock applied to new deposits.
func (v *Vault) SetLockDuration(seconds int64) {
	if seconds <= 0 {
		v.lockDuration = DefaultLockDuration
		return
	}
	v.lockDuration = seconds
}

// SetClawbackDelay overrides the grace period after unlock during which
// only the withdrawer can move the funds.
func (v *Vault) SetClawbackDelay(seconds int64) {
	if seconds <= 0 {
		v.clawbackDelay = DefaultClawbackDelay
		return
	}
	v.clawbackDelay = seconds
}

// SetNowFunc overrides the time source used by the vault.
func (v *Vault) SetNowFunc(now func() int64) {
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

// SetEmitter configures the event emitter used by the vault. Passing nil
// resets the emitter to a no-op implementation.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

func (v *Vault) emit(event *types.Event) {
	if v == nil || v.emitter == nil || event == nil {
		return
	}
	v.emitter.Emit(settlementEvent{evt: event})
}

func (v *Vault) now() int64 {
	if v == nil || v.nowFn == nil {
		return time.Now().Unix()
	}
	return v.nowFn()
}

// Deposit locks amount from the depositor for the withdrawer. At most one
// live deposit may exist per (depositor, withdrawer, asset) triple.
func (v *Vault) Deposit(depositor, withdrawer [20]byte, asset string, amount *big.Int) (*Deposit, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	value := cloneBigInt(amount)
	if value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if depositor == ([20]byte{}) || withdrawer == ([20]byte{}) {
		return nil, fmt.Errorf("%w: depositor and withdrawer required", ErrInvalidInput)
	}
	if depositor == withdrawer {
		return nil, fmt.Errorf("%w: depositor and withdrawer must differ", ErrInvalidInput)
	}
	if _, ok, err := v.state.DepositGet(depositor, withdrawer, normalized); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrDuplicateDeposit
	}
	vault, err := v.state.VaultAddress(normalized)
	if err != nil {
		return nil, err
	}
	if err := v.state.Transfer(normalized, depositor, vault, value); err != nil {
		return nil, err
	}
	now := v.now()
	deposit := &Deposit{
		Depositor:  depositor,
		Withdrawer: withdrawer,
		Asset:      normalized,
		Amount:     value,
		CreatedAt:  now,
		UnlocksAt:  now + v.lockDuration,
	}
	if err := v.state.DepositPut(deposit); err != nil {
		return nil, err
	}
	v.emit(NewDepositLockedEvent(deposit))
	return deposit.Clone(), nil
}

// Withdraw pays a matured deposit to its withdrawer and removes the entry.
// Withdrawal at exactly the unlock instant succeeds; one second before it
// is still locked.
func (v *Vault) Withdraw(depositor, withdrawer [20]byte, asset string, caller [20]byte) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	deposit, ok, err := v.state.DepositGet(depositor, withdrawer, normalized)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: deposit", ErrNotFound)
	}
	if caller != deposit.Withdrawer {
		return fmt.Errorf("%w: withdraw", ErrUnauthorized)
	}
	if v.now() < deposit.UnlocksAt {
		return fmt.Errorf("%w: unlocks at %d", ErrLocked, deposit.UnlocksAt)
	}
	return v.settle(deposit, deposit.Withdrawer, "withdrawn")
}

// Clawback returns an unclaimed deposit to its depositor once the clawback
// delay has elapsed past the unlock instant.
func (v *Vault) Clawback(depositor, withdrawer [20]byte, asset string, caller [20]byte) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	deposit, ok, err := v.state.DepositGet(depositor, withdrawer, normalized)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: deposit", ErrNotFound)
	}
	if caller != deposit.Depositor {
		return fmt.Errorf("%w: clawback", ErrUnauthorized)
	}
	if v.now() < deposit.UnlocksAt+v.clawbackDelay {
		return fmt.Errorf("%w: clawback opens at %d", ErrLocked, deposit.UnlocksAt+v.clawbackDelay)
	}
	return v.settle(deposit, deposit.Depositor, "clawed_back")
}

// Get returns the live deposit for the triple, if any.
func (v *Vault) Get(depositor, withdrawer [20]byte, asset string) (*Deposit, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	deposit, ok, err := v.state.DepositGet(depositor, withdrawer, normalized)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: deposit", ErrNotFound)
	}
	return deposit.Clone(), nil
}

func (v *Vault) settle(deposit *Deposit, recipient [20]byte, outcome string) error {
	vault, err := v.state.VaultAddress(deposit.Asset)
	if err != nil {
		return err
	}
	if err := v.state.Transfer(deposit.Asset, vault, recipient, deposit.Amount); err != nil {
		return err
	}
	if err := v.state.DepositDelete(deposit.Depositor, deposit.Withdrawer, deposit.Asset); err != nil {
		return err
	}
	v.emit(NewDepositSettledEvent(deposit, recipient, outcome))
	return nil
}
