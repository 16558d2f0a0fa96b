package worker

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
)

const flipResultEvent = "FlipResult"

const nadFlipABI = `[
{"type":"function","name":"flipCoin","stateMutability":"payable","inputs":[{"name":"guessHigh","type":"bool"}],"outputs":[]},
{"type":"function","name":"getJackpotPool","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getBalance","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"flipCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getMyStats","stateMutability":"view","inputs":[{"name":"player","type":"address"}],"outputs":[
 {"name":"totalFlips","type":"uint256"},{"name":"wins","type":"uint256"},{"name":"jackpots","type":"uint256"},
 {"name":"wagered","type":"uint256"},{"name":"paidOut","type":"uint256"}]},
{"type":"function","name":"getRecentFlips","stateMutability":"view","inputs":[{"name":"count","type":"uint256"}],"outputs":[
 {"name":"","type":"uint256[]"},{"name":"","type":"address[]"},{"name":"","type":"uint88[]"},{"name":"","type":"uint32[]"},
 {"name":"","type":"bool[]"},{"name":"","type":"bool[]"},{"name":"","type":"bool[]"}]},
{"type":"function","name":"getCurrentFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
{"type":"event","name":"FlipResult","anonymous":false,"inputs":[
 {"name":"player","type":"address","indexed":true},{"name":"rolledNumber","type":"uint256","indexed":false},
 {"name":"won","type":"bool","indexed":false},{"name":"jackpot","type":"bool","indexed":false},
 {"name":"amount","type":"uint256","indexed":false},{"name":"guessHigh","type":"bool","indexed":false}]}
]`

// RecentFlipsResult mirrors the seven parallel arrays of getRecentFlips.
type RecentFlipsResult struct {
	IDs       []*big.Int
	Players   []common.Address
	Amounts   []*big.Int
	Rolled    []uint32
	Won       []bool
	Jackpot   []bool
	GuessHigh []bool
}

type RawPlayerStats struct {
	TotalFlips *big.Int
	Wins       *big.Int
	Jackpots   *big.Int
	Wagered    *big.Int
	PaidOut    *big.Int
}

// FlipResultEvent is a decoded FlipResult log.
type FlipResultEvent struct {
	Player       common.Address
	RolledNumber *big.Int
	Won          bool
	Jackpot      bool
	Amount       *big.Int
	GuessHigh    bool
	Raw          types.Log
}

// Key identifies the log that carried the event.
func (e *FlipResultEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.Raw.TxHash.Hex(), e.Raw.Index)
}

// ContractCaller is the read surface of the flip contract.
type ContractCaller interface {
	JackpotPool(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context) (*big.Int, error)
	FlipCount(ctx context.Context) (*big.Int, error)
	RecentFlips(ctx context.Context, count *big.Int) (RecentFlipsResult, error)
	PlayerStats(ctx context.Context, player common.Address) (RawPlayerStats, error)
	CurrentFee(ctx context.Context) (*big.Int, error)
}

type FlipTransactor interface {
	FlipCoin(opts *bind.TransactOpts, guessHigh bool) (*types.Transaction, error)
}

// FlipEventSource delivers FlipResult events, either by range query or by
// live subscription.
type FlipEventSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterFlipResults(ctx context.Context, from, to uint64, player common.Address) ([]*FlipResultEvent, error)
	WatchFlipResults(ctx context.Context, player common.Address, sink chan<- *FlipResultEvent) (event.Subscription, error)
}

// Contract binds the flip contract over JSON-RPC. ws may be nil, in which
// case live subscriptions are unavailable.
type Contract struct {
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
	rpc     *ethclient.Client
	ws      *ethclient.Client
}

func NewContract(address common.Address, rpc, ws *ethclient.Client) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(nadFlipABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse contract abi")
	}
	return &Contract{
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, parsed, rpc, rpc, rpc),
		rpc:     rpc,
		ws:      ws,
	}, nil
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Contract) JackpotPool(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "getJackpotPool")
}

func (c *Contract) Balance(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "getBalance")
}

func (c *Contract) FlipCount(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "flipCount")
}

func (c *Contract) CurrentFee(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, "getCurrentFee")
}

func (c *Contract) PlayerStats(ctx context.Context, player common.Address) (RawPlayerStats, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "getMyStats", player); err != nil {
		return RawPlayerStats{}, err
	}
	return RawPlayerStats{
		TotalFlips: *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Wins:       *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Jackpots:   *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		Wagered:    *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
		PaidOut:    *abi.ConvertType(out[4], new(*big.Int)).(**big.Int),
	}, nil
}

func (c *Contract) RecentFlips(ctx context.Context, count *big.Int) (RecentFlipsResult, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "getRecentFlips", count); err != nil {
		return RecentFlipsResult{}, err
	}
	return RecentFlipsResult{
		IDs:       *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int),
		Players:   *abi.ConvertType(out[1], new([]common.Address)).(*[]common.Address),
		Amounts:   *abi.ConvertType(out[2], new([]*big.Int)).(*[]*big.Int),
		Rolled:    *abi.ConvertType(out[3], new([]uint32)).(*[]uint32),
		Won:       *abi.ConvertType(out[4], new([]bool)).(*[]bool),
		Jackpot:   *abi.ConvertType(out[5], new([]bool)).(*[]bool),
		GuessHigh: *abi.ConvertType(out[6], new([]bool)).(*[]bool),
	}, nil
}

func (c *Contract) FlipCoin(opts *bind.TransactOpts, guessHigh bool) (*types.Transaction, error) {
	return c.bound.Transact(opts, "flipCoin", guessHigh)
}

func (c *Contract) BlockNumber(ctx context.Context) (uint64, error) {
	return c.rpc.BlockNumber(ctx)
}

func (c *Contract) flipResultQuery(player common.Address) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			{c.abi.Events[flipResultEvent].ID},
			{common.BytesToHash(player.Bytes())},
		},
	}
}

func (c *Contract) FilterFlipResults(ctx context.Context, from, to uint64, player common.Address) ([]*FlipResultEvent, error) {
	q := c.flipResultQuery(player)
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)

	logs, err := c.rpc.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}

	events := make([]*FlipResultEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := c.unpackFlipResult(l)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Contract) WatchFlipResults(ctx context.Context, player common.Address, sink chan<- *FlipResultEvent) (event.Subscription, error) {
	if c.ws == nil {
		return nil, ErrPushUnavailable
	}

	logs := make(chan types.Log, 16)
	sub, err := c.ws.SubscribeFilterLogs(ctx, c.flipResultQuery(player), logs)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				ev, err := c.unpackFlipResult(l)
				if err != nil {
					return err
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *Contract) unpackFlipResult(l types.Log) (*FlipResultEvent, error) {
	ev := new(FlipResultEvent)
	if err := c.bound.UnpackLog(ev, flipResultEvent, l); err != nil {
		return nil, errors.Wrap(err, "unpack FlipResult")
	}
	ev.Raw = l
	return ev, nil
}
