package worker

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	testChainID = big.NewInt(10143)
	alice       = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	errBoom     = errors.New("boom")
)

func mon(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeCaller serves the contract views from an in-memory flip list, newest
// first.
type fakeCaller struct {
	mu        sync.Mutex
	flips     []FlipRecord
	jackpot   *big.Int
	balance   *big.Int
	fee       *big.Int
	stats     map[common.Address]RawPlayerStats
	failing   bool
	requested []uint64
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		jackpot: ToWei(mon("10")),
		balance: ToWei(mon("500")),
		fee:     ToWei(mon("0.01")),
		stats:   make(map[common.Address]RawPlayerStats),
	}
}

func (f *fakeCaller) addFlip(rec FlipRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flips = append([]FlipRecord{rec}, f.flips...)
}

func (f *fakeCaller) setFailing(failing bool) {
	f.mu.Lock()
	f.failing = failing
	f.mu.Unlock()
}

func (f *fakeCaller) amount(v *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errBoom
	}
	return new(big.Int).Set(v), nil
}

func (f *fakeCaller) JackpotPool(ctx context.Context) (*big.Int, error) {
	return f.amount(f.jackpot)
}

func (f *fakeCaller) Balance(ctx context.Context) (*big.Int, error) {
	return f.amount(f.balance)
}

func (f *fakeCaller) CurrentFee(ctx context.Context) (*big.Int, error) {
	return f.amount(f.fee)
}

func (f *fakeCaller) FlipCount(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errBoom
	}
	return big.NewInt(int64(len(f.flips))), nil
}

func (f *fakeCaller) RecentFlips(ctx context.Context, count *big.Int) (RecentFlipsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return RecentFlipsResult{}, errBoom
	}
	n := int(count.Int64())
	f.requested = append(f.requested, uint64(n))
	if n > len(f.flips) {
		n = len(f.flips)
	}

	var out RecentFlipsResult
	for _, rec := range f.flips[:n] {
		out.IDs = append(out.IDs, new(big.Int).SetUint64(rec.ID))
		out.Players = append(out.Players, rec.Player)
		out.Amounts = append(out.Amounts, ToWei(rec.Wagered))
		out.Rolled = append(out.Rolled, rec.Rolled)
		out.Won = append(out.Won, rec.Won)
		out.Jackpot = append(out.Jackpot, rec.Jackpot)
		out.GuessHigh = append(out.GuessHigh, rec.GuessHigh)
	}
	return out, nil
}

func (f *fakeCaller) PlayerStats(ctx context.Context, player common.Address) (RawPlayerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return RawPlayerStats{}, errBoom
	}
	if s, ok := f.stats[player]; ok {
		return s, nil
	}
	return RawPlayerStats{
		TotalFlips: big.NewInt(0),
		Wins:       big.NewInt(0),
		Jackpots:   big.NewInt(0),
		Wagered:    big.NewInt(0),
		PaidOut:    big.NewInt(0),
	}, nil
}

type fakeTransactor struct {
	mu    sync.Mutex
	calls int
	err   error
	last  *bind.TransactOpts
}

func (f *fakeTransactor) FlipCoin(opts *bind.TransactOpts, guessHigh bool) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = opts
	if f.err != nil {
		return nil, f.err
	}
	data := []byte{0x01}
	if !guessHigh {
		data[0] = 0x00
	}
	return types.NewTransaction(uint64(f.calls), common.Address{}, opts.Value, opts.GasLimit, big.NewInt(1), data), nil
}

func (f *fakeTransactor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeWallet struct {
	mu        sync.Mutex
	address   common.Address
	connected bool
	chainID   *big.Int
	chainErr  error
	switchErr error
	listeners []func(WalletState)
}

func newFakeWallet(address common.Address) *fakeWallet {
	return &fakeWallet{address: address, connected: true, chainID: new(big.Int).Set(testChainID)}
}

func (w *fakeWallet) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *fakeWallet) Address() (common.Address, error) {
	if !w.IsConnected() {
		return common.Address{}, ErrWalletNotConnected
	}
	return w.address, nil
}

func (w *fakeWallet) ChainID(ctx context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.chainErr != nil {
		return nil, w.chainErr
	}
	return w.chainID, nil
}

func (w *fakeWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.switchErr != nil {
		return w.switchErr
	}
	w.chainID = new(big.Int).Set(chainID)
	return nil
}

func (w *fakeWallet) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	if !w.IsConnected() {
		return nil, ErrWalletNotConnected
	}
	return &bind.TransactOpts{From: w.address, Context: ctx}, nil
}

func (w *fakeWallet) OnStateChanged(fn func(WalletState)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *fakeWallet) disconnect() {
	w.mu.Lock()
	w.connected = false
	listeners := append([]func(WalletState){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(WalletState{Connected: false, Address: w.address})
	}
}

type reveal struct {
	won       bool
	amount    decimal.Decimal
	guessHigh bool
}

type recordingSink struct {
	mu        sync.Mutex
	begins    int
	cancels   int
	reveals   []reveal
	histories [][]FlipRecord
	stats     []PlayerStats
	pools     []PoolInfo

	onBegin func()
}

func (s *recordingSink) BeginPendingAnimation() {
	s.mu.Lock()
	s.begins++
	hook := s.onBegin
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (s *recordingSink) CancelPendingAnimation() {
	s.mu.Lock()
	s.cancels++
	s.mu.Unlock()
}

func (s *recordingSink) RevealOutcome(won bool, amount decimal.Decimal, guessHigh bool) {
	s.mu.Lock()
	s.reveals = append(s.reveals, reveal{won: won, amount: amount, guessHigh: guessHigh})
	s.mu.Unlock()
}

func (s *recordingSink) RenderHistoryPage(records []FlipRecord, page int) {
	s.mu.Lock()
	s.histories = append(s.histories, records)
	s.mu.Unlock()
}

func (s *recordingSink) RenderStatsPanel(stats PlayerStats) {
	s.mu.Lock()
	s.stats = append(s.stats, stats)
	s.mu.Unlock()
}

func (s *recordingSink) RenderPoolPanel(pool PoolInfo) {
	s.mu.Lock()
	s.pools = append(s.pools, pool)
	s.mu.Unlock()
}

func (s *recordingSink) Reveals() []reveal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reveal{}, s.reveals...)
}

func (s *recordingSink) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func (s *recordingSink) Begins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins
}

// fakeEvents is a chain of blocks carrying FlipResult events, plus a feed for
// live subscriptions.
type fakeEvents struct {
	mu         sync.Mutex
	head       uint64
	headErr    error
	filterErr  error
	events     []*FlipResultEvent
	ranges     []BlockRange
	watchCalls int
	watchErr   error

	feed    chan *FlipResultEvent
	subFail chan error
}

func newFakeEvents(head uint64) *fakeEvents {
	return &fakeEvents{
		head:    head,
		feed:    make(chan *FlipResultEvent, 16),
		subFail: make(chan error, 1),
	}
}

func (f *fakeEvents) setHead(head uint64) {
	f.mu.Lock()
	f.head = head
	f.mu.Unlock()
}

func (f *fakeEvents) add(ev *FlipResultEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeEvents) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeEvents) FilterFlipResults(ctx context.Context, from, to uint64, player common.Address) ([]*FlipResultEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, BlockRange{From: from, To: to})
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	// no topic filtering here: the poller must discard other players itself
	var out []*FlipResultEvent
	for _, ev := range f.events {
		if ev.Raw.BlockNumber >= from && ev.Raw.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeEvents) WatchFlipResults(ctx context.Context, player common.Address, sink chan<- *FlipResultEvent) (event.Subscription, error) {
	f.mu.Lock()
	f.watchCalls++
	err := f.watchErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case ev := <-f.feed:
				select {
				case sink <- ev:
				case <-quit:
					return nil
				}
			case err := <-f.subFail:
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (f *fakeEvents) WatchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCalls
}

func flipEvent(player common.Address, block uint64, index uint, rolled int64, won, guessHigh bool, amount string) *FlipResultEvent {
	return &FlipResultEvent{
		Player:       player,
		RolledNumber: big.NewInt(rolled),
		Won:          won,
		Amount:       ToWei(mon(amount)),
		GuessHigh:    guessHigh,
		Raw: types.Log{
			BlockNumber: block,
			TxHash:      common.BigToHash(big.NewInt(int64(block*1000) + int64(index))),
			Index:       index,
		},
	}
}
