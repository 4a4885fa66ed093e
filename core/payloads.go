package core

import "github.com/holiman/uint256"

// Amounts and token ids travel as decimal strings ("1000000000000000000").

// ---- escrow ledger ----

type TransferPayload struct {
	To     string       `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

type ApprovePayload struct {
	Spender string       `json:"spender"`
	Amount  *uint256.Int `json:"amount"`
}

type TransferFromPayload struct {
	Owner  string       `json:"owner"`
	To     string       `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

// RevokeFreezePayload is sent by the spender to release an owner's freeze.
type RevokeFreezePayload struct {
	Owner  string       `json:"owner"`
	Amount *uint256.Int `json:"amount"`
}

type AddIssuePayload struct {
	To     string       `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

// ---- range NFT registry ----

type NFTMintPayload struct {
	To           string       `json:"to"`
	ID           *uint256.Int `json:"id"`
	URI          string       `json:"uri"`
	Transferable bool         `json:"transferable"`
	Burnable     bool         `json:"burnable"`
}

type NFTMintMultiPayload struct {
	To           string       `json:"to"`
	BaseID       *uint256.Int `json:"base_id"`
	Count        uint64       `json:"count"`
	URI          string       `json:"uri"`
	Transferable bool         `json:"transferable"`
	Burnable     bool         `json:"burnable"`
}

type NFTApprovePayload struct {
	Spender string       `json:"spender"`
	ID      *uint256.Int `json:"id"`
}

type NFTApproveArrayPayload struct {
	Spender string         `json:"spender"`
	IDs     []*uint256.Int `json:"ids"`
}

type NFTApproveMultiPayload struct {
	Spender string       `json:"spender"`
	BaseID  *uint256.Int `json:"base_id"`
	Count   uint64       `json:"count"`
}

type NFTIDPayload struct {
	ID *uint256.Int `json:"id"`
}

type NFTSetOperatorPayload struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type NFTTransferPayload struct {
	From string       `json:"from"`
	To   string       `json:"to"`
	ID   *uint256.Int `json:"id"`
}

type NFTBurnPayload struct {
	Owner string       `json:"owner"`
	ID    *uint256.Int `json:"id"`
}

type NFTSetStatusPayload struct {
	ID     *uint256.Int `json:"id"`
	Status uint8        `json:"status"`
}

type NFTSetUserPayload struct {
	ID   *uint256.Int `json:"id"`
	User string       `json:"user"`
}

type NFTSetTransferablePayload struct {
	ID           *uint256.Int `json:"id"`
	Transferable bool         `json:"transferable"`
}

type NFTSetMetadataPayload struct {
	Metadata string `json:"metadata"`
}

// ---- marketplace ----

type MarketListPayload struct {
	Market    string       `json:"market"`
	Seller    string       `json:"seller"`
	ID        *uint256.Int `json:"id"`
	UnitPrice *uint256.Int `json:"unit_price"`
}

type MarketListArrayPayload struct {
	Market    string         `json:"market"`
	Seller    string         `json:"seller"`
	IDs       []*uint256.Int `json:"ids"`
	UnitPrice *uint256.Int   `json:"unit_price"`
}

type MarketListMultiPayload struct {
	Market    string       `json:"market"`
	Seller    string       `json:"seller"`
	BaseID    *uint256.Int `json:"base_id"`
	Count     uint64       `json:"count"`
	UnitPrice *uint256.Int `json:"unit_price"`
}

type MarketRevokePayload struct {
	Market string       `json:"market"`
	BaseID *uint256.Int `json:"base_id"`
	Count  uint64       `json:"count"`
}

type MarketBuyPayload struct {
	Market      string       `json:"market"`
	Seller      string       `json:"seller"`
	BaseID      *uint256.Int `json:"base_id"`
	Count       uint64       `json:"count"`
	TotalAmount *uint256.Int `json:"total_amount"`
}

type MarketBuyArrayPayload struct {
	Market      string         `json:"market"`
	Seller      string         `json:"seller"`
	IDs         []*uint256.Int `json:"ids"`
	TotalAmount *uint256.Int   `json:"total_amount"`
}

// ---- auction ----

type AuctionCreatePayload struct {
	AssetID      *uint256.Int `json:"asset_id"`
	LowestValue  *uint256.Int `json:"lowest_value"`
	ClosingValue *uint256.Int `json:"closing_value"` // zero disables auto-close
	EndTimestamp int64        `json:"end_timestamp"`
}

type AuctionBidPayload struct {
	Auction string       `json:"auction"`
	Amount  *uint256.Int `json:"amount"`
}

// ---- lottery ----

type LotteryCreatePayload struct {
	AssetID       *uint256.Int `json:"asset_id"`
	RequiredCount uint64       `json:"required_count"`
	UnitPrice     *uint256.Int `json:"unit_price"`
	EndTimestamp  int64        `json:"end_timestamp"`
}

type LotteryFailsPayload struct {
	Lottery string `json:"lottery"`
	Limit   uint64 `json:"limit"`
}

// ---- pre-sale ----

type PreSaleCreatePayload struct {
	EndTimestamp int64 `json:"end_timestamp"`
}

type PreSaleRegisterPayload struct {
	PreSale     string       `json:"presale"`
	Seller      string       `json:"seller"`
	BaseID      *uint256.Int `json:"base_id"`
	MaxQuantity uint64       `json:"max_quantity"`
	UnitPrice   *uint256.Int `json:"unit_price"`
	URI         string       `json:"uri"`
}

type PreSaleOrderPayload struct {
	PreSale  string       `json:"presale"`
	BaseID   *uint256.Int `json:"base_id"`
	Quantity uint64       `json:"quantity"`
	Receiver string       `json:"receiver"` // empty means the buyer
}

type PreSaleRefundPayload struct {
	PreSale string       `json:"presale"`
	BaseID  *uint256.Int `json:"base_id"`
	Amount  uint64       `json:"amount"`
}

type PreSaleMintPayload struct {
	PreSale string       `json:"presale"`
	BaseID  *uint256.Int `json:"base_id"`
	Count   uint64       `json:"count"` // platform mint only
}

// ---- shared ----

// TargetPayload addresses an auction, lottery or pre-sale instance.
type TargetPayload struct {
	Target string `json:"target"`
}

// SetEndPayload overrides the deadline of an auction, lottery or pre-sale.
type SetEndPayload struct {
	Target       string `json:"target"`
	EndTimestamp int64  `json:"end_timestamp"`
}
