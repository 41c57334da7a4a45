package core

import (
	"math/big"
	"sync"

	"custodia/core/events"
	"custodia/core/state"
	"custodia/core/types"
	"custodia/native/settlement"
	"custodia/storage"
)

// Node owns the database handle and serialises all settlement operations.
// Every mutating call runs against a fresh storage overlay and a buffered
// event emitter; both are committed together on success and discarded
// together on failure, so a half-applied operation can never be observed.
type Node struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter

	admin          [20]byte
	responseWindow int64
	lockDuration   int64
	clawbackDelay  int64
	nowFn          func() int64
}

// NodeOption configures a Node at construction.
type NodeOption func(*Node)

// WithAdmin sets the admin/oracle identity for the node's engines.
func WithAdmin(addr [20]byte) NodeOption {
	return func(n *Node) { n.admin = addr }
}

// WithResponseWindow sets the mutual-cancellation response window.
func WithResponseWindow(seconds int64) NodeOption {
	return func(n *Node) { n.responseWindow = seconds }
}

// WithTimelock sets the lock duration and clawback delay for the timelock
// vault.
func WithTimelock(lockSeconds, clawbackSeconds int64) NodeOption {
	return func(n *Node) {
		n.lockDuration = lockSeconds
		n.clawbackDelay = clawbackSeconds
	}
}

// WithEmitter sets the sink that receives committed events.
func WithEmitter(emitter events.Emitter) NodeOption {
	return func(n *Node) {
		if emitter != nil {
			n.emitter = emitter
		}
	}
}

// WithNowFunc overrides the node's time source. Used by tests.
func WithNowFunc(now func() int64) NodeOption {
	return func(n *Node) {
		if now != nil {
			n.nowFn = now
		}
	}
}

// NewNode creates a node over the database.
func NewNode(db storage.Database, opts ...NodeOption) *Node {
	n := &Node{
		db:      db,
		emitter: events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Node) newEngine(manager *state.Manager, buffer *events.Buffer) *settlement.Engine {
	engine := settlement.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(buffer)
	engine.SetAdmin(n.admin)
	if n.responseWindow > 0 {
		engine.SetResponseWindow(n.responseWindow)
	}
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}
	return engine
}

func (n *Node) newVault(manager *state.Manager, buffer *events.Buffer) *settlement.Vault {
	vault := settlement.NewVault()
	vault.SetState(manager)
	vault.SetEmitter(buffer)
	if n.lockDuration > 0 {
		vault.SetLockDuration(n.lockDuration)
	}
	if n.clawbackDelay > 0 {
		vault.SetClawbackDelay(n.clawbackDelay)
	}
	if n.nowFn != nil {
		vault.SetNowFunc(n.nowFn)
	}
	return vault
}

// withEngine runs fn inside a write transaction over a settlement engine.
func (n *Node) withEngine(fn func(*settlement.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := storage.NewOverlay(n.db)
	buffer := events.NewBuffer(n.emitter)
	engine := n.newEngine(state.NewManager(overlay), buffer)
	if err := fn(engine); err != nil {
		overlay.Discard()
		buffer.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		buffer.Discard()
		return err
	}
	buffer.Flush()
	return nil
}

// withVault runs fn inside a write transaction over a timelock vault.
func (n *Node) withVault(fn func(*settlement.Vault) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := storage.NewOverlay(n.db)
	buffer := events.NewBuffer(n.emitter)
	vault := n.newVault(state.NewManager(overlay), buffer)
	if err := fn(vault); err != nil {
		overlay.Discard()
		buffer.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		buffer.Discard()
		return err
	}
	buffer.Flush()
	return nil
}

func (n *Node) reader() *state.Manager {
	return state.NewManager(n.db)
}

// CreateSettlement validates and stores a new settlement record.
func (n *Node) CreateSettlement(params settlement.CreateParams) (*settlement.Record, error) {
	var record *settlement.Record
	err := n.withEngine(func(engine *settlement.Engine) error {
		created, err := engine.Create(params)
		if err != nil {
			return err
		}
		record = created
		return nil
	})
	return record, err
}

// FundSettlement moves the record amount from the buyer into escrow.
func (n *Node) FundSettlement(id uint64, payer [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.Fund(id, payer)
	})
}

// MarkDelivered flags delivery on behalf of the seller.
func (n *Node) MarkDelivered(id uint64, caller [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.MarkDelivered(id, caller)
	})
}

// ConfirmDelivery releases escrow to the seller on buyer acceptance.
func (n *Node) ConfirmDelivery(id uint64, caller [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.ConfirmDelivery(id, caller)
	})
}

// VerifyCondition evaluates the release condition and pays out when met.
func (n *Node) VerifyCondition(id uint64, caller [20]byte, oracleInput *bool) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.VerifyCondition(id, caller, oracleInput)
	})
}

// ApproveSettlement records a threshold approval.
func (n *Node) ApproveSettlement(id uint64, party [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.Approve(id, party)
	})
}

// CancelSettlement aborts a record and refunds any escrow to the buyer.
func (n *Node) CancelSettlement(id uint64, caller [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.Cancel(id, caller)
	})
}

// RequestRefund opens a refund request on the record.
func (n *Node) RequestRefund(id uint64, requester [20]byte, reason string) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.RequestRefund(id, requester, reason)
	})
}

// ProcessRefund refunds the buyer when the refund conditions hold.
func (n *Node) ProcessRefund(id uint64) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.ProcessRefund(id)
	})
}

// ResolveRefund lets the admin approve or deny an open refund request.
func (n *Node) ResolveRefund(id uint64, caller [20]byte, approve bool) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.ResolveRefund(id, caller, approve)
	})
}

// DisputeSettlement opens a dispute on the record.
func (n *Node) DisputeSettlement(id uint64, caller [20]byte, reason string) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.Dispute(id, caller, reason)
	})
}

// ResolveSettlement settles a disputed record one way or the other.
func (n *Node) ResolveSettlement(id uint64, caller [20]byte, releaseToSeller bool) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.Resolve(id, caller, releaseToSeller)
	})
}

// ProposeCancellation opens a mutual-cancellation proposal.
func (n *Node) ProposeCancellation(id uint64, caller [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.ProposeCancellation(id, caller)
	})
}

// AgreeCancellation accepts a live proposal and refunds the buyer.
func (n *Node) AgreeCancellation(id uint64, caller [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.AgreeCancellation(id, caller)
	})
}

// WithdrawProposal retracts the caller's own cancellation proposal.
func (n *Node) WithdrawProposal(id uint64, caller [20]byte) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.WithdrawProposal(id, caller)
	})
}

// ResetExpiredProposal clears a lapsed cancellation proposal.
func (n *Node) ResetExpiredProposal(id uint64) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.ResetExpiredProposal(id)
	})
}

// CompleteMilestone flags a milestone delivered.
func (n *Node) CompleteMilestone(id uint64, caller [20]byte, index uint32) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.CompleteMilestone(id, caller, index)
	})
}

// ApproveMilestone accepts a completed milestone and releases its tranche.
func (n *Node) ApproveMilestone(id uint64, caller [20]byte, index uint32) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.ApproveMilestone(id, caller, index)
	})
}

// DisputeMilestone contests a completed milestone.
func (n *Node) DisputeMilestone(id uint64, caller [20]byte, index uint32, reason string) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.DisputeMilestone(id, caller, index, reason)
	})
}

// ResolveMilestone settles a disputed milestone.
func (n *Node) ResolveMilestone(id uint64, caller [20]byte, index uint32, releaseToSeller bool) error {
	return n.withEngine(func(engine *settlement.Engine) error {
		return engine.ResolveMilestone(id, caller, index, releaseToSeller)
	})
}

// TimelockDeposit locks funds for the withdrawer.
func (n *Node) TimelockDeposit(depositor, withdrawer [20]byte, asset string, amount *big.Int) (*settlement.Deposit, error) {
	var deposit *settlement.Deposit
	err := n.withVault(func(vault *settlement.Vault) error {
		created, err := vault.Deposit(depositor, withdrawer, asset, amount)
		if err != nil {
			return err
		}
		deposit = created
		return nil
	})
	return deposit, err
}

// TimelockWithdraw pays a matured deposit to its withdrawer.
func (n *Node) TimelockWithdraw(depositor, withdrawer [20]byte, asset string, caller [20]byte) error {
	return n.withVault(func(vault *settlement.Vault) error {
		return vault.Withdraw(depositor, withdrawer, asset, caller)
	})
}

// TimelockClawback returns an unclaimed deposit to its depositor.
func (n *Node) TimelockClawback(depositor, withdrawer [20]byte, asset string, caller [20]byte) error {
	return n.withVault(func(vault *settlement.Vault) error {
		return vault.Clawback(depositor, withdrawer, asset, caller)
	})
}

// GetSettlement returns the record by id.
func (n *Node) GetSettlement(id uint64) (*settlement.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	record, ok, err := n.reader().SettlementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return record, nil
}

// SettlementsByParty returns one page of records bound to the party.
func (n *Node) SettlementsByParty(party [20]byte, offset, limit int) ([]*settlement.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	manager := n.reader()
	ids, err := manager.SettlementsByParty(party, offset, limit)
	if err != nil {
		return nil, err
	}
	records := make([]*settlement.Record, 0, len(ids))
	for _, id := range ids {
		record, ok, err := manager.SettlementGet(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Milestones returns every milestone of the record in index order.
func (n *Node) Milestones(id uint64) ([]*settlement.Milestone, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	manager := n.reader()
	record, ok, err := manager.SettlementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return manager.Milestones(id, record.MilestoneCount)
}

// TimelockGet returns the live deposit for the triple.
func (n *Node) TimelockGet(depositor, withdrawer [20]byte, asset string) (*settlement.Deposit, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	vault := n.newVault(n.reader(), events.NewBuffer(nil))
	return vault.Get(depositor, withdrawer, asset)
}

// GetAccount returns the account for the address.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reader().GetAccount(addr)
}

// Credit adds balance to an account. Exposed for genesis allocation and
// development faucets.
func (n *Node) Credit(addr [20]byte, asset string, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := storage.NewOverlay(n.db)
	if err := state.NewManager(overlay).Credit(addr, asset, amount); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}
