package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/crypto"
	"github.com/tolelom/dmachain/vm/modules/escrow"
	"github.com/tolelom/dmachain/vm/modules/nft"
)

// GenesisHash is the previous hash recorded in block #0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ApplyGenesis writes the token, the registry and the initial allocation to
// state without committing. An empty token issuer or registry owner defaults
// to operator.
func (g GenesisConfig) ApplyGenesis(state core.State, operator string) error {
	alloc := make(map[string]*uint256.Int, len(g.Alloc))
	for addr, amount := range g.Alloc {
		if !crypto.IsAddress(addr) {
			return fmt.Errorf("genesis alloc: invalid address %q", addr)
		}
		v, err := escrow.ParseAmount(amount, g.Token.Decimals)
		if err != nil {
			return fmt.Errorf("genesis alloc %s: %w", addr, err)
		}
		alloc[strings.ToLower(addr)] = v
	}

	issuer := g.Token.Issuer
	if issuer == "" {
		issuer = operator
	}
	if err := escrow.Genesis(state, escrow.TokenInfo{
		Name:     g.Token.Name,
		Symbol:   g.Token.Symbol,
		Decimals: g.Token.Decimals,
		Issuer:   issuer,
	}, alloc); err != nil {
		return fmt.Errorf("genesis ledger: %w", err)
	}

	owner := g.Registry.Owner
	if owner == "" {
		owner = operator
	}
	if err := nft.Genesis(state, nft.Info{
		Name:        g.Registry.Name,
		Symbol:      g.Registry.Symbol,
		Metadata:    g.Registry.Metadata,
		Owner:       owner,
		BurnEnabled: g.Registry.BurnEnabled,
	}); err != nil {
		return fmt.Errorf("genesis registry: %w", err)
	}
	return nil
}

// CreateGenesisBlock applies the genesis state, commits it and returns the
// signed block #0. The chain id is bound into TxRoot.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	proposer := proposerPriv.Public().Hex()
	if err := cfg.Genesis.ApplyGenesis(state, proposer); err != nil {
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposer, nil)
	block.Header.StateRoot = stateRoot
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.SetSeed(proposerPriv)
	block.Sign(proposerPriv)
	return block, nil
}
