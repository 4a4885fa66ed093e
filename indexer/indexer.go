// Package indexer maintains secondary indexes over committed events so
// clients can list tokens by owner and find sales whose deadline has passed
// without scanning the world state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/internal/logger"
	"github.com/tolelom/dmachain/storage"
	"github.com/tolelom/dmachain/vm/modules/sale"
)

const (
	prefixOwnerToken = "idx:tok:"   // idx:tok:<owner>:<padded id> -> id
	prefixSale       = "idx:sale:"  // idx:sale:<address> -> SaleRecord
	prefixOwnerSale  = "idx:osale:" // idx:osale:<owner>:<address> -> kind
	keyHeight        = "idx:height"

	idWidth = 78 // decimal digits of 2^256-1
)

// SaleRecord is the indexed view of a sale component.
type SaleRecord struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Owner   string `json:"owner"`
	End     int64  `json:"end_timestamp"` // 0: no deadline
	Closed  bool   `json:"closed"`
	// Outstanding counts pre-sale units ordered but not yet minted.
	Outstanding uint64 `json:"outstanding,omitempty"`
}

// due reports whether the sale needs a settlement call at now.
func (r *SaleRecord) due(now int64) bool {
	if r.Closed || r.End == 0 || r.End > now {
		return false
	}
	if r.Kind == sale.KindPreSale {
		return r.Outstanding > 0
	}
	return true
}

type deadline struct {
	end  int64
	addr string
}

func lessDeadline(a, b deadline) bool {
	if a.end != b.end {
		return a.end < b.end
	}
	return a.addr < b.addr
}

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db  storage.DB
	log *zap.Logger

	mu     sync.RWMutex
	queue  *btree.BTreeG[deadline]
	height int64
}

// New creates an Indexer backed by db, reloads the deadline queue from db
// and subscribes to emitter when it is non-nil.
func New(db storage.DB, emitter *events.Emitter) (*Indexer, error) {
	idx := &Indexer{
		db:    db,
		log:   logger.Named("indexer"),
		queue: btree.NewG[deadline](16, lessDeadline),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	if emitter != nil {
		emitter.SubscribeAll(idx.Handle)
	}
	return idx, nil
}

func (idx *Indexer) load() error {
	it := idx.db.NewIterator([]byte(prefixSale))
	defer it.Release()
	for it.Next() {
		var rec SaleRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return fmt.Errorf("indexer: decode %s: %w", it.Key(), err)
		}
		if !rec.Closed && rec.End != 0 {
			idx.queue.ReplaceOrInsert(deadline{end: rec.End, addr: rec.Address})
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	raw, err := idx.db.Get([]byte(keyHeight))
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	idx.height, err = strconv.ParseInt(string(raw), 10, 64)
	return err
}

// Height is the last block whose commit the indexer has seen.
func (idx *Indexer) Height() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.height
}

// Replay feeds previously journaled events through the indexer.
func (idx *Indexer) Replay(evs []events.Event) {
	for _, ev := range evs {
		idx.Handle(ev)
	}
}

// Handle is the emitter callback. Index failures are logged; the chain is
// the source of truth and the index can be rebuilt from the journal.
func (idx *Indexer) Handle(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var err error
	switch ev.Type {
	case events.EventNFTTransfer:
		err = idx.onTokenMoved(ev)
	case events.EventComponentCreated:
		err = idx.onCreated(ev)
	case events.EventDeadlineChanged:
		err = idx.updateSale(str(ev.Data, "address"), func(r *SaleRecord) { r.End = num(ev.Data, "end_timestamp") })
	case events.EventAuctionFinished:
		err = idx.updateSale(str(ev.Data, "auction"), func(r *SaleRecord) { r.Closed = true })
	case events.EventLotteryFinished, events.EventLotteryFailed:
		err = idx.updateSale(str(ev.Data, "lottery"), func(r *SaleRecord) { r.Closed = true })
	case events.EventOrderPlaced:
		err = idx.updateSale(str(ev.Data, "presale"), func(r *SaleRecord) { r.Outstanding += uint64(num(ev.Data, "quantity")) })
	case events.EventOrderRefunded:
		err = idx.updateSale(str(ev.Data, "presale"), func(r *SaleRecord) { r.Outstanding = sub(r.Outstanding, num(ev.Data, "amount")) })
	case events.EventPreSaleMinted:
		err = idx.updateSale(str(ev.Data, "presale"), func(r *SaleRecord) { r.Outstanding = sub(r.Outstanding, num(ev.Data, "count")) })
	case events.EventBlockCommit:
		if ev.BlockHeight > idx.height {
			idx.height = ev.BlockHeight
			err = idx.db.Set([]byte(keyHeight), []byte(strconv.FormatInt(ev.BlockHeight, 10)))
		}
	}
	if err != nil {
		idx.log.Warn("index update failed", zap.String("event", string(ev.Type)), zap.String("tx", ev.TxID), zap.Error(err))
	}
}

// ---- tokens ----

func tokenKey(owner, id string) []byte {
	pad := idWidth - len(id)
	if pad < 0 {
		pad = 0
	}
	return []byte(prefixOwnerToken + owner + ":" + strings.Repeat("0", pad) + id)
}

func (idx *Indexer) onTokenMoved(ev events.Event) error {
	id := str(ev.Data, "id")
	if id == "" {
		return errors.New("nft transfer without id")
	}
	if from := str(ev.Data, "from"); from != "" {
		if err := idx.db.Delete(tokenKey(from, id)); err != nil {
			return err
		}
	}
	if to := str(ev.Data, "to"); to != "" {
		return idx.db.Set(tokenKey(to, id), []byte(id))
	}
	return nil
}

// TokensByOwner lists the decimal token ids held by owner in ascending order.
func (idx *Indexer) TokensByOwner(owner string) ([]string, error) {
	return idx.values(prefixOwnerToken + owner + ":")
}

// ---- sales ----

func (idx *Indexer) onCreated(ev events.Event) error {
	rec := SaleRecord{
		Kind:    str(ev.Data, "kind"),
		Address: str(ev.Data, "address"),
		Owner:   str(ev.Data, "owner"),
		End:     num(ev.Data, "end_timestamp"),
	}
	if rec.Address == "" {
		return errors.New("component without address")
	}
	if err := idx.saveSale(nil, &rec); err != nil {
		return err
	}
	return idx.db.Set([]byte(prefixOwnerSale+rec.Owner+":"+rec.Address), []byte(rec.Kind))
}

func (idx *Indexer) updateSale(addr string, mutate func(*SaleRecord)) error {
	rec, err := idx.getSale(addr)
	if err != nil {
		return err
	}
	before := *rec
	mutate(rec)
	return idx.saveSale(&before, rec)
}

// saveSale persists rec and moves its deadline entry.
func (idx *Indexer) saveSale(before, rec *SaleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := idx.db.Set([]byte(prefixSale+rec.Address), data); err != nil {
		return err
	}
	if before != nil {
		idx.queue.Delete(deadline{end: before.End, addr: before.Address})
	}
	if !rec.Closed && rec.End != 0 {
		idx.queue.ReplaceOrInsert(deadline{end: rec.End, addr: rec.Address})
	}
	return nil
}

func (idx *Indexer) getSale(addr string) (*SaleRecord, error) {
	data, err := idx.db.Get([]byte(prefixSale + addr))
	if err != nil {
		return nil, fmt.Errorf("sale %s: %w", addr, err)
	}
	var rec SaleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Sale returns the indexed record of a sale component.
func (idx *Indexer) Sale(addr string) (*SaleRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.getSale(addr)
}

// SalesByOwner lists the addresses of components created by owner.
func (idx *Indexer) SalesByOwner(owner string) ([]string, error) {
	prefix := prefixOwnerSale + owner + ":"
	it := idx.db.NewIterator([]byte(prefix))
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Key()), prefix))
	}
	return out, it.Error()
}

// DueSales returns open sales whose deadline is at or before now, earliest
// first: auctions awaiting exchange, lotteries awaiting fails and pre-sales
// with unminted orders.
func (idx *Indexer) DueSales(now int64) ([]SaleRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []SaleRecord
	var err error
	idx.queue.AscendLessThan(deadline{end: now + 1}, func(d deadline) bool {
		var rec *SaleRecord
		if rec, err = idx.getSale(d.addr); err != nil {
			return false
		}
		if rec.due(now) {
			out = append(out, *rec)
		}
		return true
	})
	return out, err
}

// ---- helpers ----

func (idx *Indexer) values(prefix string) ([]string, error) {
	it := idx.db.NewIterator([]byte(prefix))
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Value()))
	}
	return out, it.Error()
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// num reads integers from live events and from JSON-decoded journal events.
func num(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func sub(a uint64, b int64) uint64 {
	if b <= 0 {
		return a
	}
	if uint64(b) > a {
		return 0
	}
	return a - uint64(b)
}
