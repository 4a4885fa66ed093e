package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tolelom/dmachain/internal/logger"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "block_commit"
	EventTxExecuted  EventType = "tx_executed"

	// escrow ledger
	EventTransfer       EventType = "transfer"
	EventApproval       EventType = "approval"
	EventApprovalFreeze EventType = "approval_freeze"
	EventRevokeApprove  EventType = "revoke_approve"

	// range NFT registry
	EventNFTTransfer EventType = "nft_transfer" // from "" is a mint, to "" a burn
	EventNFTApproval EventType = "nft_approval"
	EventNFTOperator EventType = "nft_operator"
	EventNFTUpdated  EventType = "nft_updated"

	// sale components
	EventComponentCreated EventType = "component_created"
	EventDeadlineChanged  EventType = "deadline_changed"
	EventListed           EventType = "listed"
	EventDelisted         EventType = "delisted"
	EventSold             EventType = "sold"
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionFinished  EventType = "auction_finished"
	EventBetPlaced        EventType = "bet_placed"
	EventLotteryFinished  EventType = "lottery_finished"
	EventLotteryFailed    EventType = "lottery_failed"
	EventAssetRegistered  EventType = "asset_registered"
	EventOrderPlaced      EventType = "order_placed"
	EventOrderRefunded    EventType = "order_refunded"
	EventPreSaleMinted    EventType = "presale_minted"
)

// Event carries a typed payload emitted after a state change. Amounts and
// token ids in Data are decimal strings.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type. Sinks such as the journal
// and the NATS bridge use this.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers synchronously. A panicking subscriber
// is logged and skipped so it cannot halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("event handler panicked",
						zap.String("event", string(ev.Type)),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}
