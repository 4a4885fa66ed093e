package lottery

import (
	"encoding/json"

	"github.com/tolelom/dmachain/core"
	"github.com/tolelom/dmachain/vm"
)

func init() {
	vm.Register(core.TxLotteryCreate, handleCreate)
	vm.Register(core.TxLotteryBet, handleBet)
	vm.Register(core.TxLotteryFails, handleFails)
	vm.Register(core.TxLotterySetEnd, handleSetEnd)
}

func handleCreate(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.LotteryCreatePayload](core.TxLotteryCreate, payload)
	if err != nil {
		return err
	}
	_, err = Create(ctx, p.AssetID, p.RequiredCount, p.UnitPrice, p.EndTimestamp)
	return err
}

func handleBet(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.TargetPayload](core.TxLotteryBet, payload)
	if err != nil {
		return err
	}
	pool, err := Load(ctx, p.Target)
	if err != nil {
		return err
	}
	return pool.Bet()
}

func handleFails(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.LotteryFailsPayload](core.TxLotteryFails, payload)
	if err != nil {
		return err
	}
	pool, err := Load(ctx, p.Lottery)
	if err != nil {
		return err
	}
	return pool.Fails(p.Limit)
}

func handleSetEnd(ctx *vm.Context, payload json.RawMessage) error {
	p, err := vm.Decode[core.SetEndPayload](core.TxLotterySetEnd, payload)
	if err != nil {
		return err
	}
	pool, err := Load(ctx, p.Target)
	if err != nil {
		return err
	}
	return pool.SetEndTimestamp(p.EndTimestamp)
}
