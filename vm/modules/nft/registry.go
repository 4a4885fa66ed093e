// Package nft implements the range-compacted non-fungible asset registry.
//
// Ids are 256-bit integers. A batch root (base id) that has been used by
// MintMulti remembers the next free id of its range, so repeated batch mints
// against the same root grow one contiguous range instead of colliding.
package nft

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/events"
	"github.com/tolelom/dmachain/vm"
)

const (
	keyInfo         = "nft:info"
	prefixToken     = "nft:tok:"
	prefixNextID    = "nft:next:"
	prefixApproveAt = "nft:acur:"
	prefixOperator  = "nft:op:"
)

// Token is a live asset.
type Token struct {
	ID           *uint256.Int `json:"id"`
	Owner        string       `json:"owner"`
	Approved     string       `json:"approved,omitempty"` // single slot, cleared on transfer
	URI          string       `json:"uri"`
	Transferable bool         `json:"transferable"`
	Burnable     bool         `json:"burnable"`
	Status       uint8        `json:"status"`
	User         string       `json:"user,omitempty"` // holder/renter label, no ownership effect
}

// Info describes the registry itself.
type Info struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Metadata    string `json:"metadata"`
	Owner       string `json:"owner"`
	BurnEnabled bool   `json:"burn_enabled"`
}

// Registry is the asset registry as seen by ctx.Caller().
type Registry struct {
	ctx *vm.Context
}

// New binds the registry to ctx. Sale components pass ctx.As(self).
func New(ctx *vm.Context) *Registry {
	return &Registry{ctx: ctx}
}

// Genesis records the registry description.
func Genesis(state core.State, info Info) error {
	return state.Set(keyInfo, &info)
}

func tokenKey(id *uint256.Int) string { return prefixToken + core.IDKey(id) }

func operatorKey(owner, operator string) string {
	return prefixOperator + owner + ":" + operator
}

// ---- queries ----

func (r *Registry) Info() (*Info, error) {
	var info Info
	if err := r.ctx.State.Get(keyInfo, &info); err != nil {
		return nil, fmt.Errorf("registry info: %w", err)
	}
	return &info, nil
}

// Metadata returns the registry-wide metadata string.
func (r *Registry) Metadata() (string, error) {
	info, err := r.Info()
	if err != nil {
		return "", err
	}
	return info.Metadata, nil
}

// TokenInfo returns the full record of a live id.
func (r *Registry) TokenInfo(id *uint256.Int) (*Token, error) {
	var tok Token
	err := r.ctx.State.Get(tokenKey(id), &tok)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("token %s does not exist: %w", core.IDKey(id), core.ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (r *Registry) Exists(id *uint256.Int) (bool, error) {
	return r.ctx.State.Has(tokenKey(id))
}

func (r *Registry) OwnerOf(id *uint256.Int) (string, error) {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return "", err
	}
	return tok.Owner, nil
}

func (r *Registry) GetApproved(id *uint256.Int) (string, error) {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return "", err
	}
	return tok.Approved, nil
}

func (r *Registry) TokenURI(id *uint256.Int) (string, error) {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return "", err
	}
	return tok.URI, nil
}

// CheckURI is TokenURI without the existence check: missing ids yield "".
func (r *Registry) CheckURI(id *uint256.Int) string {
	uri, err := r.TokenURI(id)
	if err != nil {
		return ""
	}
	return uri
}

func (r *Registry) GetStatus(id *uint256.Int) (uint8, error) {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return 0, err
	}
	return tok.Status, nil
}

func (r *Registry) GetUser(id *uint256.Int) (string, error) {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return "", err
	}
	return tok.User, nil
}

func (r *Registry) IsApprovedForAll(owner, operator string) (bool, error) {
	var ok bool
	err := r.ctx.State.Get(operatorKey(owner, operator), &ok)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

// LatestTokenID returns the next free id of the range rooted at base, or zero
// when base has never been used as a batch root.
func (r *Registry) LatestTokenID(base *uint256.Int) (*uint256.Int, error) {
	next, found, err := r.cursor(prefixNextID, base)
	if err != nil || !found {
		return new(uint256.Int), err
	}
	return next, nil
}

// ---- minting ----

// Mint creates a single id. The caller must be the registry owner or an
// operator of the recipient.
func (r *Registry) Mint(to string, id *uint256.Int, uri string, transferable, burnable bool) error {
	if err := r.checkMinter(to); err != nil {
		return err
	}
	return r.mintOne(to, core.OrZero(id), uri, transferable, burnable)
}

// MintMulti mints count consecutive ids for the root base and returns the
// first id. The range starts at the root's cursor when base was used before,
// else at base itself.
func (r *Registry) MintMulti(to string, base *uint256.Int, count uint64, uri string, transferable, burnable bool) (*uint256.Int, error) {
	if count == 0 {
		return nil, fmt.Errorf("mint count must be > 0: %w", core.ErrInvalidQuantity)
	}
	if err := r.checkMinter(to); err != nil {
		return nil, err
	}
	base = core.OrZero(base)
	start, found, err := r.cursor(prefixNextID, base)
	if err != nil {
		return nil, err
	}
	if !found {
		start = base.Clone()
	}
	end, err := core.OffsetID(start, count)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		id, _ := core.OffsetID(start, i)
		if err := r.mintOne(to, id, uri, transferable, burnable); err != nil {
			return nil, err
		}
	}
	if err := r.ctx.State.Set(prefixNextID+core.IDKey(base), end); err != nil {
		return nil, err
	}
	return start, nil
}

func (r *Registry) checkMinter(to string) error {
	if !crypto.IsAddress(to) {
		return fmt.Errorf("mint: invalid recipient %q: %w", to, core.ErrInvalidState)
	}
	caller := r.ctx.Caller()
	info, err := r.Info()
	if err != nil {
		return err
	}
	if caller == info.Owner {
		return nil
	}
	op, err := r.IsApprovedForAll(to, caller)
	if err != nil {
		return err
	}
	if !op {
		return fmt.Errorf("mint: %w", core.ErrUnauthorized)
	}
	return nil
}

func (r *Registry) mintOne(to string, id *uint256.Int, uri string, transferable, burnable bool) error {
	exists, err := r.Exists(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("token %s already exists: %w", id.Dec(), core.ErrOwnershipConflict)
	}
	tok := &Token{ID: id, Owner: to, URI: uri, Transferable: transferable, Burnable: burnable}
	if err := r.ctx.State.Set(tokenKey(id), tok); err != nil {
		return err
	}
	if err := r.enumAdd(tok); err != nil {
		return err
	}
	r.emitTransfer("", to, id)
	return nil
}

// RangeFree reports whether none of the count ids the next MintMulti on
// base would create exist yet.
func (r *Registry) RangeFree(base *uint256.Int, count uint64) (bool, error) {
	base = core.OrZero(base)
	start, found, err := r.cursor(prefixNextID, base)
	if err != nil {
		return false, err
	}
	if !found {
		start = base.Clone()
	}
	for i := uint64(0); i < count; i++ {
		id, err := core.OffsetID(start, i)
		if err != nil {
			return false, nil
		}
		exists, err := r.Exists(id)
		if err != nil || exists {
			return false, err
		}
	}
	return true, nil
}

// ---- approvals ----

// Approve fills the single approval slot of id. An occupied slot must be
// cleared (by transfer or ClearApproval) before it can be reassigned.
func (r *Registry) Approve(spender string, id *uint256.Int) error {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return err
	}
	if err := r.checkOwnerOrOperator(tok); err != nil {
		return err
	}
	if spender == "" || spender == tok.Owner {
		return fmt.Errorf("approve: invalid spender: %w", core.ErrUnauthorized)
	}
	if tok.Approved != "" {
		return fmt.Errorf("token %s already approved to %s: %w", tok.ID.Dec(), tok.Approved, core.ErrOwnershipConflict)
	}
	tok.Approved = spender
	if err := r.ctx.State.Set(tokenKey(tok.ID), tok); err != nil {
		return err
	}
	r.ctx.Emit(events.EventNFTApproval, map[string]any{
		"owner": tok.Owner, "spender": spender, "id": tok.ID.Dec(),
	})
	return nil
}

func (r *Registry) ApproveWithArray(spender string, ids []*uint256.Int) error {
	if len(ids) == 0 {
		return fmt.Errorf("approve: no ids: %w", core.ErrInvalidQuantity)
	}
	for _, id := range ids {
		if err := r.Approve(spender, id); err != nil {
			return err
		}
	}
	return nil
}

// ApproveMulti approves the next count ids of the root base, starting at the
// root's approval cursor (base itself on first use), and advances the cursor.
func (r *Registry) ApproveMulti(spender string, base *uint256.Int, count uint64) error {
	if count == 0 {
		return fmt.Errorf("approve: count must be > 0: %w", core.ErrInvalidQuantity)
	}
	base = core.OrZero(base)
	start, found, err := r.cursor(prefixApproveAt, base)
	if err != nil {
		return err
	}
	if !found {
		start = base.Clone()
	}
	for i := uint64(0); i < count; i++ {
		id, err := core.OffsetID(start, i)
		if err != nil {
			return err
		}
		if err := r.Approve(spender, id); err != nil {
			return err
		}
	}
	next, err := core.OffsetID(start, count)
	if err != nil {
		return err
	}
	return r.ctx.State.Set(prefixApproveAt+core.IDKey(base), next)
}

// ClearApproval empties the approval slot. The owner, an operator or the
// approved spender itself may clear it.
func (r *Registry) ClearApproval(id *uint256.Int) error {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return err
	}
	if err := r.checkAuthorized(tok); err != nil {
		return err
	}
	if tok.Approved == "" {
		return nil
	}
	tok.Approved = ""
	return r.ctx.State.Set(tokenKey(tok.ID), tok)
}

// SetApprovalForAll grants or revokes operator rights over every token the
// caller owns, including ones minted later.
func (r *Registry) SetApprovalForAll(operator string, approved bool) error {
	owner := r.ctx.Caller()
	if operator == "" || operator == owner {
		return fmt.Errorf("operator must differ from owner: %w", core.ErrUnauthorized)
	}
	key := operatorKey(owner, operator)
	var err error
	if approved {
		err = r.ctx.State.Set(key, true)
	} else {
		err = r.ctx.State.Delete(key)
	}
	if err != nil {
		return err
	}
	r.ctx.Emit(events.EventNFTOperator, map[string]any{
		"owner": owner, "operator": operator, "approved": approved,
	})
	return nil
}

// ---- transfer / burn ----

// TransferFrom moves id from from to to. The caller must be the owner, the
// approved spender or an operator of from.
func (r *Registry) TransferFrom(from, to string, id *uint256.Int) error {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return err
	}
	if tok.Owner != from {
		return fmt.Errorf("token %s is not owned by %s: %w", tok.ID.Dec(), from, core.ErrOwnershipConflict)
	}
	if err := r.checkAuthorized(tok); err != nil {
		return err
	}
	if !tok.Transferable {
		return fmt.Errorf("token %s is not transferable: %w", tok.ID.Dec(), core.ErrOwnershipConflict)
	}
	if to == "" {
		return fmt.Errorf("transfer to empty address: %w", core.ErrInvalidState)
	}
	if from == to {
		return nil
	}
	if err := r.remove(ownerList(from), tok.ID); err != nil {
		return err
	}
	if err := r.push(ownerList(to), tok.ID); err != nil {
		return err
	}
	tok.Owner = to
	tok.Approved = ""
	if err := r.ctx.State.Set(tokenKey(tok.ID), tok); err != nil {
		return err
	}
	r.emitTransfer(from, to, tok.ID)
	return nil
}

// SafeTransferFrom additionally requires to to be a well-formed address.
func (r *Registry) SafeTransferFrom(from, to string, id *uint256.Int) error {
	if !crypto.IsAddress(to) {
		return fmt.Errorf("invalid recipient %q: %w", to, core.ErrInvalidState)
	}
	return r.TransferFrom(from, to, id)
}

// Burn destroys id. Both the registry burn switch and the token's burnable
// flag must be set. The id may be minted again afterwards.
func (r *Registry) Burn(owner string, id *uint256.Int) error {
	info, err := r.Info()
	if err != nil {
		return err
	}
	tok, err := r.TokenInfo(id)
	if err != nil {
		return err
	}
	if !info.BurnEnabled || !tok.Burnable {
		return fmt.Errorf("token %s is not burnable: %w", tok.ID.Dec(), core.ErrOwnershipConflict)
	}
	if tok.Owner != owner {
		return fmt.Errorf("token %s is not owned by %s: %w", tok.ID.Dec(), owner, core.ErrOwnershipConflict)
	}
	if err := r.checkAuthorized(tok); err != nil {
		return err
	}
	if err := r.enumRemove(tok); err != nil {
		return err
	}
	if err := r.ctx.State.Delete(tokenKey(tok.ID)); err != nil {
		return err
	}
	r.emitTransfer(owner, "", tok.ID)
	return nil
}

// ---- per-token attributes ----

func (r *Registry) SetStatus(id *uint256.Int, status uint8) error {
	return r.updateOwned(id, "status", func(t *Token) { t.Status = status })
}

func (r *Registry) SetUser(id *uint256.Int, user string) error {
	return r.updateOwned(id, "user", func(t *Token) { t.User = user })
}

func (r *Registry) SetTransferable(id *uint256.Int, transferable bool) error {
	return r.updateOwned(id, "transferable", func(t *Token) { t.Transferable = transferable })
}

// SetMetadata replaces the registry metadata. Registry owner only.
func (r *Registry) SetMetadata(metadata string) error {
	info, err := r.Info()
	if err != nil {
		return err
	}
	if r.ctx.Caller() != info.Owner {
		return fmt.Errorf("set metadata: %w", core.ErrUnauthorized)
	}
	info.Metadata = metadata
	return r.ctx.State.Set(keyInfo, info)
}

func (r *Registry) updateOwned(id *uint256.Int, field string, apply func(*Token)) error {
	tok, err := r.TokenInfo(id)
	if err != nil {
		return err
	}
	if r.ctx.Caller() != tok.Owner {
		return fmt.Errorf("set %s on token %s: %w", field, tok.ID.Dec(), core.ErrUnauthorized)
	}
	apply(tok)
	if err := r.ctx.State.Set(tokenKey(tok.ID), tok); err != nil {
		return err
	}
	r.ctx.Emit(events.EventNFTUpdated, map[string]any{"id": tok.ID.Dec(), "field": field})
	return nil
}

// ---- authorization ----

func (r *Registry) checkOwnerOrOperator(tok *Token) error {
	caller := r.ctx.Caller()
	if caller == tok.Owner {
		return nil
	}
	op, err := r.IsApprovedForAll(tok.Owner, caller)
	if err != nil {
		return err
	}
	if !op {
		return fmt.Errorf("caller is not owner or operator of token %s: %w", tok.ID.Dec(), core.ErrUnauthorized)
	}
	return nil
}

func (r *Registry) checkAuthorized(tok *Token) error {
	if caller := r.ctx.Caller(); caller != "" && caller == tok.Approved {
		return nil
	}
	return r.checkOwnerOrOperator(tok)
}

// ---- helpers ----

func (r *Registry) cursor(prefix string, base *uint256.Int) (*uint256.Int, bool, error) {
	v := new(uint256.Int)
	err := r.ctx.State.Get(prefix+core.IDKey(base), v)
	if errors.Is(err, core.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Registry) emitTransfer(from, to string, id *uint256.Int) {
	r.ctx.Emit(events.EventNFTTransfer, map[string]any{
		"from": from, "to": to, "id": id.Dec(),
	})
}
