// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer and carries the proposer's seed signature; other nodes verify
// both before accepting the block.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/dmachain/config"
	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/internal/logger"
	"github.com/tolelom/dmachain/vm"
)

const defaultMaxBlockTxs = 500

var errNoGenesis = errors.New("chain has no genesis block")

// PoA is the Proof-of-Authority consensus engine. It owns every write to the
// world state; readers go through View.
type PoA struct {
	validators []string
	maxTxs     int
	chainID    string

	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	log     *zap.Logger

	mu sync.RWMutex
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *PoA {
	maxTxs := cfg.MaxBlockTxs
	if maxTxs <= 0 {
		maxTxs = defaultMaxBlockTxs
	}
	return &PoA{
		validators: cfg.Validators,
		maxTxs:     maxTxs,
		chainID:    cfg.Genesis.ChainID,
		bc:         bc,
		state:      state,
		mempool:    mempool,
		emitter:    emitter,
		privKey:    privKey,
		pubKey:     privKey.Public(),
		log:        logger.Named("consensus"),
	}
}

// View runs fn against committed state. Block production waits for it.
func (p *PoA) View(fn func(core.State) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(p.state)
}

func (p *PoA) proposerAt(height int64) string {
	if len(p.validators) == 0 {
		return ""
	}
	return p.validators[int(height%int64(len(p.validators)))]
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	return p.proposerAt(p.bc.Height()+1) == p.pubKey.Hex()
}

// ProduceBlock executes pending transactions and commits the next block.
// Transactions that fail are left out of the block and dropped from the
// mempool; a failing transaction never blocks the ones behind it.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, errors.New("not the proposer for this round")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tip := p.bc.Tip()
	if tip == nil {
		return nil, errNoGenesis
	}
	block := core.NewBlock(tip.Header.Height+1, tip.Hash, p.pubKey.Hex(), nil)
	if block.Header.Timestamp <= tip.Header.Timestamp {
		block.Header.Timestamp = tip.Header.Timestamp + 1
	}
	block.SetSeed(p.privKey)

	buffered, exec := p.bufferedExecutor()
	var included []*core.Transaction
	var dropped []string
	for _, tx := range p.mempool.Pending(p.maxTxs) {
		if err := exec.ExecuteTx(block, tx); err != nil {
			p.log.Info("tx rejected", zap.String("tx", tx.ID), zap.String("type", string(tx.Type)), zap.Error(err))
			dropped = append(dropped, tx.ID)
			continue
		}
		included = append(included, tx)
	}
	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.commit(block, *buffered); err != nil {
		return nil, err
	}
	p.mempool.Remove(dropped)
	return block, nil
}

// ApplyBlock validates and executes a block proposed by another validator.
func (p *PoA) ApplyBlock(block *core.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ValidateBlock(block); err != nil {
		return err
	}
	buffered, exec := p.bufferedExecutor()
	if err := exec.ExecuteBlock(block); err != nil {
		p.state.Discard()
		return fmt.Errorf("execute block %d: %w", block.Header.Height, err)
	}
	if root := p.state.ComputeRoot(); root != block.Header.StateRoot {
		p.state.Discard()
		return fmt.Errorf("state root mismatch at %d: got %s want %s", block.Header.Height, root, block.Header.StateRoot)
	}
	return p.commit(block, *buffered)
}

// ValidateBlock checks proposer, signatures, tx root and linkage.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.validators) == 0 {
		return errors.New("no validators configured")
	}
	if expected := p.proposerAt(block.Header.Height); block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}
	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if err := block.VerifySeed(pub); err != nil {
		return fmt.Errorf("block seed invalid: %w", err)
	}
	if block.Header.TxRoot != core.ComputeTxRoot(block.Transactions) {
		return errors.New("tx root mismatch")
	}

	tip := p.bc.Tip()
	if tip == nil {
		return errNoGenesis
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	if block.Header.Timestamp <= tip.Header.Timestamp {
		return errors.New("block timestamp does not advance")
	}
	return nil
}

// Run produces a block every interval while this node is the proposer,
// until ctx is cancelled.
func (p *PoA) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil {
				p.log.Warn("produce block failed", zap.Error(err))
			}
		}
	}
}

// bufferedExecutor returns an executor whose events are held back until the
// block is stored, so subscribers never see effects of a discarded block.
func (p *PoA) bufferedExecutor() (*[]events.Event, *vm.Executor) {
	buf := new([]events.Event)
	em := events.NewEmitter()
	em.SubscribeAll(func(ev events.Event) { *buf = append(*buf, ev) })
	return buf, vm.NewExecutor(p.state, em, p.chainID)
}

// commit persists block, flushes state and then releases its events.
func (p *PoA) commit(block *core.Block, evs []events.Event) error {
	if err := p.bc.AddBlock(block); err != nil {
		p.state.Discard()
		return fmt.Errorf("add block: %w", err)
	}
	if err := p.state.Commit(); err != nil {
		logger.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height), zap.Error(err))
	}

	ids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.ID
	}
	p.mempool.Remove(ids)
	p.mempool.Prune(func(addr string) uint64 {
		acc, err := p.state.GetAccount(addr)
		if err != nil {
			return 0
		}
		return acc.Nonce
	})

	if p.emitter != nil {
		for _, ev := range evs {
			p.emitter.Emit(ev)
		}
		p.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Header.Height,
			Data: map[string]any{
				"hash":      block.Hash,
				"txs":       len(block.Transactions),
				"timestamp": block.UnixTime(),
			},
		})
	}
	p.log.Debug("block committed", zap.Int64("height", block.Header.Height),
		zap.String("hash", block.Hash), zap.Int("txs", len(block.Transactions)))
	return nil
}
