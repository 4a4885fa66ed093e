package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxTxAge       = int64(time.Hour)       // reject txs older than 1 hour
	maxTxFuture    = int64(5 * time.Minute) // reject txs more than 5 min in the future
)

var (
	ErrMempoolFull  = errors.New("mempool full")
	ErrTxKnown      = errors.New("tx already in pool")
	ErrNonceTaken   = errors.New("sender nonce already pending")
	ErrTxOutOfRange = errors.New("transaction timestamp out of range")
)

// Mempool is a thread-safe pending-transaction pool. Each sender has at most
// one pending transaction per nonce.
type Mempool struct {
	mu      sync.RWMutex
	chainID string
	txs     map[string]*Transaction
	bySlot  map[string]string // sender/nonce -> tx id
	ord     []string          // arrival order
}

// NewMempool creates an empty mempool. A non-empty chainID rejects
// transactions signed for another network at the door.
func NewMempool(chainID string) *Mempool {
	return &Mempool{
		chainID: chainID,
		txs:     make(map[string]*Transaction),
		bySlot:  make(map[string]string),
	}
}

func slotKey(from string, nonce uint64) string {
	return fmt.Sprintf("%s/%d", from, nonce)
}

// Add validates and inserts a transaction. The timestamp window is -1 h / +5 min.
func (m *Mempool) Add(tx *Transaction) error {
	if m.chainID != "" && tx.ChainID != m.chainID {
		return fmt.Errorf("chain id mismatch: got %q want %q", tx.ChainID, m.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge || tx.Timestamp-now > maxTxFuture {
		return ErrTxOutOfRange
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrTxKnown
	}
	slot := slotKey(tx.From, tx.Nonce)
	if _, taken := m.bySlot[slot]; taken {
		return ErrNonceTaken
	}
	m.txs[tx.ID] = tx
	m.bySlot[slot] = tx.ID
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n transactions. Senders are taken in order of their
// first arrival and each sender's transactions are ascending by nonce, so a
// block never carries nonce 1 ahead of nonce 0.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var senders []string
	bySender := make(map[string][]*Transaction)
	for _, id := range m.ord {
		tx := m.txs[id]
		if _, seen := bySender[tx.From]; !seen {
			senders = append(senders, tx.From)
		}
		bySender[tx.From] = append(bySender[tx.From], tx)
	}

	result := make([]*Transaction, 0, n)
	for _, from := range senders {
		txs := bySender[from]
		sort.Slice(txs, func(i, j int) bool { return txs[i].Nonce < txs[j].Nonce })
		for _, tx := range txs {
			if len(result) >= n {
				return result
			}
			result = append(result, tx)
		}
	}
	return result
}

// Remove deletes transactions by ID (called after block commit).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.removeLocked(id)
	}
	m.compactLocked()
}

// Prune drops every transaction whose nonce is already behind the sender's
// account nonce. nonceOf reads the committed state.
func (m *Mempool) Prune(nonceOf func(addr string) uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, tx := range m.txs {
		if tx.Nonce < nonceOf(tx.From) {
			m.removeLocked(id)
			dropped++
		}
	}
	m.compactLocked()
	return dropped
}

func (m *Mempool) removeLocked(id string) {
	tx, ok := m.txs[id]
	if !ok {
		return
	}
	delete(m.txs, id)
	delete(m.bySlot, slotKey(tx.From, tx.Nonce))
}

func (m *Mempool) compactLocked() {
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if _, ok := m.txs[id]; ok {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
