package core

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tolelom/dmachain/crypto"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"` // hash of state after executing this block
	TxRoot    string `json:"tx_root"`    // hash of all transaction IDs
	Timestamp int64  `json:"timestamp"`
	Proposer  string `json:"proposer"` // proposer's pubkey hex
	// Seed is the proposer's signature over SeedMessage(PrevHash). ed25519
	// signing is deterministic, so the proposer cannot grind it and other
	// nodes can verify it against Proposer.
	Seed string `json:"seed"`
}

// Block is a collection of transactions with a signed header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	if b.Hash != b.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// SeedMessage is the message a proposer signs to derive the block seed.
func SeedMessage(prevHash string) []byte {
	return []byte("seed:" + prevHash)
}

// SetSeed derives the header seed from the proposer key. Call before Sign.
func (b *Block) SetSeed(priv crypto.PrivateKey) {
	b.Header.Seed = crypto.Sign(priv, SeedMessage(b.Header.PrevHash))
}

// VerifySeed checks that the header seed was produced by pub.
func (b *Block) VerifySeed(pub crypto.PublicKey) error {
	return crypto.Verify(pub, SeedMessage(b.Header.PrevHash), b.Header.Seed)
}

// UnixTime returns the block timestamp in whole seconds, the unit used by
// every sale deadline.
func (b *Block) UnixTime() int64 {
	return b.Header.Timestamp / int64(time.Second)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, []byte(tx.ID)...)
	}
	return crypto.Hash(ids)
}

// NewBlock creates an unsigned block with the given parameters.
func NewBlock(height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}
