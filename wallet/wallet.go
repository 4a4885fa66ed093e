package wallet

import (
	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Address is the hex-encoded ed25519 public key. It is the "from" of every
// transaction and the account key in the ledger.
func (w *Wallet) Address() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. chainID must match the target network.
// nonce should match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Session signs a run of transactions with consecutive nonces.
type Session struct {
	w       *Wallet
	chainID string
	nonce   uint64
	fee     uint64
}

// Session starts signing at nonce with a fixed fee.
func (w *Wallet) Session(chainID string, nonce, fee uint64) *Session {
	return &Session{w: w, chainID: chainID, nonce: nonce, fee: fee}
}

// Nonce is the nonce the next transaction will carry.
func (s *Session) Nonce() uint64 { return s.nonce }

// Tx signs typ with payload and advances the nonce.
func (s *Session) Tx(typ core.TxType, payload any) (*core.Transaction, error) {
	tx, err := s.w.NewTx(s.chainID, typ, s.nonce, s.fee, payload)
	if err != nil {
		return nil, err
	}
	s.nonce++
	return tx, nil
}

func (s *Session) Transfer(to string, amount *uint256.Int) (*core.Transaction, error) {
	return s.Tx(core.TxTransfer, core.TransferPayload{To: to, Amount: amount})
}

// Freeze escrows amount toward spender, usually a sale component.
func (s *Session) Freeze(spender string, amount *uint256.Int) (*core.Transaction, error) {
	return s.Tx(core.TxApproveFreeze, core.ApprovePayload{Spender: spender, Amount: amount})
}

// MintMulti mints count ids of the range rooted at base to to. The wallet
// must own the registry or be an operator of to.
func (s *Session) MintMulti(to string, base *uint256.Int, count uint64, uri string) (*core.Transaction, error) {
	return s.Tx(core.TxNFTMintMulti, core.NFTMintMultiPayload{
		To: to, BaseID: base, Count: count, URI: uri, Transferable: true,
	})
}

// SetOperator grants or revokes operator rights over the wallet's assets.
func (s *Session) SetOperator(operator string, approved bool) (*core.Transaction, error) {
	return s.Tx(core.TxNFTSetOperator, core.NFTSetOperatorPayload{Operator: operator, Approved: approved})
}
