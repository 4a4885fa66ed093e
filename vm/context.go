package vm

import (
	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block and the triggering transaction.
//
// Events raised through Emit are buffered and only delivered by the executor
// once the transaction succeeds, so observers never see rolled-back effects.
type Context struct {
	State core.State
	Block *core.Block
	Tx    *core.Transaction

	caller  string
	pending *[]events.Event
}

// NewContext builds a context for tx in block. tx may be nil for read-only
// queries, in which case Caller returns "".
func NewContext(state core.State, block *core.Block, tx *core.Transaction) *Context {
	return &Context{State: state, Block: block, Tx: tx, pending: new([]events.Event)}
}

// Caller is the principal the current call acts for: the transaction sender,
// or a component address when a sale component calls into the ledger.
func (c *Context) Caller() string {
	if c.caller != "" {
		return c.caller
	}
	if c.Tx != nil {
		return c.Tx.From
	}
	return ""
}

// As returns a copy of the context whose caller is addr. State and the event
// buffer are shared with the parent.
func (c *Context) As(addr string) *Context {
	cp := *c
	cp.caller = addr
	return &cp
}

// Now returns the block time in unix seconds.
func (c *Context) Now() int64 {
	if c.Block == nil {
		return 0
	}
	return c.Block.UnixTime()
}

// TxID returns the triggering transaction id, or "" for queries.
func (c *Context) TxID() string {
	if c.Tx == nil {
		return ""
	}
	return c.Tx.ID
}

// Emit queues an event for delivery after the transaction commits.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	if c.pending == nil {
		return
	}
	var height int64
	if c.Block != nil {
		height = c.Block.Header.Height
	}
	*c.pending = append(*c.pending, events.Event{
		Type:        typ,
		TxID:        c.TxID(),
		BlockHeight: height,
		Data:        data,
	})
}

// Events returns the events queued so far.
func (c *Context) Events() []events.Event {
	if c.pending == nil {
		return nil
	}
	return *c.pending
}
