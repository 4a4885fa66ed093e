package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/dmachain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

// Escrow ledger.
const (
	TxTransfer           TxType = "transfer"
	TxApprove            TxType = "approve"
	TxTransferFrom       TxType = "transfer_from"
	TxApproveFreeze      TxType = "approve_freeze"
	TxTransferFromFreeze TxType = "transfer_from_freeze"
	TxRevokeFreeze       TxType = "revoke_freeze"
	TxAddIssue           TxType = "add_issue"
)

// Range NFT registry.
const (
	TxNFTMint            TxType = "nft_mint"
	TxNFTMintMulti       TxType = "nft_mint_multi"
	TxNFTApprove         TxType = "nft_approve"
	TxNFTApproveArray    TxType = "nft_approve_array"
	TxNFTApproveMulti    TxType = "nft_approve_multi"
	TxNFTClearApproval   TxType = "nft_clear_approval"
	TxNFTSetOperator     TxType = "nft_set_operator"
	TxNFTTransfer        TxType = "nft_transfer"
	TxNFTSafeTransfer    TxType = "nft_safe_transfer"
	TxNFTBurn            TxType = "nft_burn"
	TxNFTSetStatus       TxType = "nft_set_status"
	TxNFTSetUser         TxType = "nft_set_user"
	TxNFTSetTransferable TxType = "nft_set_transferable"
	TxNFTSetMetadata     TxType = "nft_set_metadata"
)

// Sale components.
const (
	TxMarketCreate    TxType = "market_create"
	TxMarketList      TxType = "market_list"
	TxMarketListArray TxType = "market_list_array"
	TxMarketListMulti TxType = "market_list_multi"
	TxMarketRevoke    TxType = "market_revoke"
	TxMarketBuy       TxType = "market_buy"
	TxMarketBuyArray  TxType = "market_buy_array"

	TxAuctionCreate   TxType = "auction_create"
	TxAuctionBid      TxType = "auction_bid"
	TxAuctionExchange TxType = "auction_exchange"
	TxAuctionRevoke   TxType = "auction_revoke"
	TxAuctionSetEnd   TxType = "auction_set_end"

	TxLotteryCreate TxType = "lottery_create"
	TxLotteryBet    TxType = "lottery_bet"
	TxLotteryFails  TxType = "lottery_fails"
	TxLotterySetEnd TxType = "lottery_set_end"

	TxPreSaleCreate       TxType = "presale_create"
	TxPreSaleRegister     TxType = "presale_register"
	TxPreSaleOrder        TxType = "presale_order"
	TxPreSaleRefund       TxType = "presale_refund"
	TxPreSaleMintCustomer TxType = "presale_mint_customer"
	TxPreSaleMintPlatform TxType = "presale_mint_platform"
	TxPreSaleSetEnd       TxType = "presale_set_end"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}
