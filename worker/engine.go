package worker

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"nadflip-web-worker/worker/store"
)

const consumedEventsSize = 1024

type EngineConfig struct {
	ChainID          *big.Int
	GasLimit         uint64
	FallbackDeadline time.Duration
	PageSize         int
}

// outstandingMarker ties a submitted wager to the record that will settle
// it. It exists only while the wager is awaiting its result.
type outstandingMarker struct {
	wagerID     string
	player      common.Address
	guessHigh   bool
	stake       decimal.Decimal
	baselineID  uint64
	hasBaseline bool
	startBlock  uint64
	hasStart    bool
	submittedAt time.Time
	txHash      common.Hash
}

// settles reports whether rec can be the settlement of this wager.
func (m *outstandingMarker) settles(rec FlipRecord) bool {
	if rec.Player != m.player || rec.GuessHigh != m.guessHigh {
		return false
	}
	return !m.hasBaseline || rec.ID > m.baselineID
}

// predates reports whether an event mined at block was already on chain
// before the wager was sent.
func (m *outstandingMarker) predates(block uint64) bool {
	return m.hasStart && block != 0 && block <= m.startBlock
}

// BlockReader reports the chain head.
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Engine drives one wager at a time from submission to reveal. Results may
// arrive from several channels, in any order and more than once; only the
// first accepted one is shown.
type Engine struct {
	conf       EngineConfig
	reader     *ChainReader
	heads      BlockReader
	transactor FlipTransactor
	wallet     Wallet
	sink       PresentationSink
	journal    store.Store
	consumed   *lru.Cache
	now        func() time.Time

	mu      sync.Mutex
	session *Session
	state   WagerState
	wager   *Wager
	marker  *outstandingMarker
}

func NewEngine(conf EngineConfig, reader *ChainReader, heads BlockReader, transactor FlipTransactor, wallet Wallet, sink PresentationSink, journal store.Store) *Engine {
	consumed, err := lru.New(consumedEventsSize)
	if err != nil {
		panic(err)
	}
	if conf.PageSize <= 0 {
		conf.PageSize = 15
	}
	return &Engine{
		conf:       conf,
		reader:     reader,
		heads:      heads,
		transactor: transactor,
		wallet:     wallet,
		sink:       sink,
		journal:    journal,
		consumed:   consumed,
		now:        time.Now,
		state:      WagerIdle,
	}
}

// SetSession installs the session of a freshly connected wallet, or clears
// it (nil) on disconnect. Clearing abandons any outstanding wager.
func (e *Engine) SetSession(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s
	if s == nil {
		if e.marker != nil {
			log.WithField("wager", e.marker.wagerID).Warn("session closed with a wager outstanding")
		}
		e.marker = nil
		e.wager = nil
		e.state = WagerIdle
	}
}

func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Player is a PlayerFunc over the current session.
func (e *Engine) Player() (common.Address, bool) {
	s := e.Session()
	if s == nil {
		return common.Address{}, false
	}
	return s.Player, true
}

func (e *Engine) State() WagerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Outstanding returns a copy of the wager in flight, if any.
func (e *Engine) Outstanding() (Wager, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wager == nil || !e.state.Outstanding() {
		return Wager{}, false
	}
	return *e.wager, true
}

// Submit places a wager. It fails fast when another wager is outstanding.
func (e *Engine) Submit(ctx context.Context, stake decimal.Decimal, guessHigh bool) (Wager, error) {
	sess := e.Session()
	if sess == nil || !e.wallet.IsConnected() {
		return Wager{}, ErrWalletNotConnected
	}
	if !stake.IsPositive() || ToWei(stake).Sign() <= 0 {
		return Wager{}, ErrInvalidStake
	}
	if ToWei(stake).Cmp(maxStakeWei) > 0 {
		return Wager{}, errors.WithMessagef(ErrInvalidStake, "stake %s exceeds the contract limit", stake)
	}

	e.mu.Lock()
	if e.state != WagerIdle {
		state := e.state
		e.mu.Unlock()
		return Wager{}, errors.WithMessagef(ErrWagerOutstanding, "engine is %s", state)
	}
	w := &Wager{ID: uuid.New().String(), GuessHigh: guessHigh, Stake: stake, State: WagerSubmitting}
	e.state = WagerSubmitting
	e.wager = w
	e.mu.Unlock()

	entry := log.WithFields(log.Fields{"wager": w.ID, "stake": stake.String(), "guess": sideName(guessHigh)})

	if err := EnsureNetwork(ctx, e.wallet, e.conf.ChainID); err != nil {
		entry.WithError(err).Warn("network check failed, wager aborted")
		e.resetIdle(w)
		return Wager{}, err
	}

	baseline, hasBaseline := e.baseline(ctx)
	startBlock, hasStart := e.startBlock(ctx)

	opts, err := e.wallet.Transactor(ctx)
	if err != nil {
		e.fail(w, err)
		return Wager{}, err
	}
	opts.Value = ToWei(stake)
	opts.GasLimit = e.conf.GasLimit

	tx, err := e.transactor.FlipCoin(opts, guessHigh)
	if err != nil {
		e.fail(w, err)
		return Wager{}, errors.WithMessage(ErrTransactionRejected, err.Error())
	}

	e.sink.BeginPendingAnimation()

	e.mu.Lock()
	if e.wager != w {
		// the session went away while the transaction was being sent
		e.mu.Unlock()
		e.sink.CancelPendingAnimation()
		return Wager{}, ErrWalletNotConnected
	}
	w.State = WagerAwaitingResult
	w.SubmittedAt = e.now()
	w.TxHash = tx.Hash()
	e.state = WagerAwaitingResult
	e.marker = &outstandingMarker{
		wagerID:     w.ID,
		player:      sess.Player,
		guessHigh:   guessHigh,
		stake:       stake,
		baselineID:  baseline,
		hasBaseline: hasBaseline,
		startBlock:  startBlock,
		hasStart:    hasStart,
		submittedAt: w.SubmittedAt,
		txHash:      w.TxHash,
	}
	out := *w
	e.mu.Unlock()

	entry.WithField("tx", w.TxHash.Hex()).Info("wager sent, waiting for FlipResult")
	return out, nil
}

// baseline is the newest flip id known before the wager is sent. Anything
// at or below it cannot be this wager's settlement.
func (e *Engine) baseline(ctx context.Context) (uint64, bool) {
	records, fresh := e.reader.RecentFlips(ctx)
	if !fresh {
		return 0, false
	}
	var newest uint64
	for _, rec := range records {
		if rec.ID > newest {
			newest = rec.ID
		}
	}
	return newest, true
}

// startBlock is the head before the wager is sent; its settlement event can
// only be mined after it.
func (e *Engine) startBlock(ctx context.Context) (uint64, bool) {
	if e.heads == nil {
		return 0, false
	}
	var head uint64
	err := invoke(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = e.heads.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, false
	}
	return head, true
}

func (e *Engine) fail(w *Wager, err error) {
	submitFailures.Inc(1)
	log.WithField("wager", w.ID).WithError(err).Warn("flip failed or rejected")

	e.mu.Lock()
	if e.wager == w {
		w.State = WagerFailed
		e.state = WagerFailed
	}
	e.mu.Unlock()

	e.sink.CancelPendingAnimation()
	e.resetIdle(w)
}

func (e *Engine) resetIdle(w *Wager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wager == w {
		e.state = WagerIdle
		e.wager = nil
		e.marker = nil
	}
}

func (e *Engine) outstandingMarker() *outstandingMarker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marker
}

// claim takes ownership of m's settlement. Only the first caller for a
// given marker gets true.
func (e *Engine) claim(m *outstandingMarker) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.marker != m {
		return false
	}
	e.marker = nil
	e.state = WagerSettled
	if e.wager != nil {
		e.wager.State = WagerSettled
	}
	return true
}

// Run consumes candidates until ctx is done.
func (e *Engine) Run(ctx context.Context, candidates <-chan ResultCandidate) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-candidates:
			e.Finalize(ctx, c)
		}
	}
}

// Finalize offers one candidate to the outstanding wager. It returns true
// when the candidate settled it.
func (e *Engine) Finalize(ctx context.Context, c ResultCandidate) bool {
	countCandidate(c.Source)
	if c.Source == SourceFallback {
		return e.finalizeFallback(ctx)
	}

	m := e.outstandingMarker()
	entry := log.WithFields(log.Fields{"source": c.Source, "key": c.Key})
	if m == nil || c.Record == nil {
		candidatesDropped.Inc(1)
		entry.Debug("no wager outstanding, dropping candidate")
		return false
	}
	if c.Key != "" && e.consumed.Contains(c.Key) {
		candidatesDropped.Inc(1)
		entry.Debug("candidate already consumed")
		return false
	}
	if c.Record.Player != m.player {
		candidatesDropped.Inc(1)
		entry.Debug("candidate belongs to another player")
		return false
	}
	if c.Record.GuessHigh != m.guessHigh {
		candidatesDropped.Inc(1)
		entry.Debug("candidate guess does not match the outstanding wager")
		return false
	}
	if m.predates(c.Block) {
		candidatesDropped.Inc(1)
		entry.WithField("block", c.Block).Debug("candidate mined before the wager was sent")
		return false
	}

	rec := *c.Record
	snapshot, fresh := e.reader.RecentFlips(ctx)
	if fresh {
		newest, ok := newestFor(snapshot, m.player)
		if !ok || !m.settles(newest) {
			candidatesDropped.Inc(1)
			entry.Warn("settlement not yet visible in recent flips, waiting")
			return false
		}
		// the reloaded record decides; the event only triggered the check
		event := rec
		rec = newest
		if event.Won && rec.Won && event.Rolled == rec.Rolled && event.Payout.IsPositive() {
			// same flip; the event amount includes any jackpot share
			rec.Payout = event.Payout
			rec.Jackpot = rec.Jackpot || event.Jackpot
		}
	}
	verifyRecord(&rec)

	// the reload above yielded; another channel may have settled meanwhile
	if !e.claim(m) {
		candidatesDropped.Inc(1)
		entry.Debug("wager already settled")
		return false
	}
	if c.Key != "" {
		e.consumed.Add(c.Key, struct{}{})
	}

	e.settle(ctx, m, c.Source, &rec, snapshot)
	return true
}

func (e *Engine) finalizeFallback(ctx context.Context) bool {
	m := e.outstandingMarker()
	if m == nil {
		return false
	}
	if e.now().Sub(m.submittedAt) < e.conf.FallbackDeadline {
		return false
	}

	entry := log.WithFields(log.Fields{"wager": m.wagerID, "source": SourceFallback})
	snapshot, fresh := e.reader.RecentFlips(ctx)
	if !fresh {
		entry.Warn("recent flips unavailable, searching the last snapshot")
	}

	rec, found := findSettlement(snapshot, m)
	if found {
		verifyRecord(&rec)
	}
	if !e.claim(m) {
		return false
	}

	if found {
		entry.WithField("flip_id", rec.ID).Info("settled from recent flips")
		e.settle(ctx, m, SourceFallback, &rec, snapshot)
		return true
	}

	entry.Warn("flip not found, forcing fallback loss display")
	settledForcedLoss.Inc(1)
	e.settle(ctx, m, SourceFallback, nil, snapshot)
	return true
}

// settle renders the outcome of a claimed wager. rec == nil is the forced
// loss used when no settlement could be found in time.
func (e *Engine) settle(ctx context.Context, m *outstandingMarker, source Source, rec *FlipRecord, snapshot []FlipRecord) {
	won := false
	amount := m.stake
	if rec != nil && rec.Won {
		won = true
		amount = rec.Payout
		if amount.IsZero() {
			amount = payoutFor(m.stake, true)
		}
	}

	if stats, ok := e.reader.PlayerStats(ctx, m.player); ok {
		e.sink.RenderStatsPanel(stats)
	}
	e.sink.RenderPoolPanel(e.reader.Pool(ctx))

	if sess := e.Session(); sess != nil && snapshot != nil {
		mine := sess.UpdateFlips(snapshot)
		page, n := Paginate(mine, 1, e.conf.PageSize)
		e.sink.RenderHistoryPage(page, n)
	}

	e.record(m, source, rec, won, amount)

	e.sink.RevealOutcome(won, amount, m.guessHigh)
	settledTotal.Inc(1)

	e.mu.Lock()
	if e.marker == nil && e.state == WagerSettled {
		e.state = WagerIdle
		e.wager = nil
	}
	e.mu.Unlock()
}

func (e *Engine) record(m *outstandingMarker, source Source, rec *FlipRecord, won bool, amount decimal.Decimal) {
	entry := &store.Settlement{
		WagerID:   m.wagerID,
		Player:    m.player.Hex(),
		TxHash:    m.txHash.Hex(),
		GuessHigh: m.guessHigh,
		Stake:     m.stake.String(),
		Amount:    amount.String(),
		Won:       won,
		Forced:    rec == nil,
		Source:    source.String(),
		SettledAt: e.now(),
	}
	if rec != nil {
		entry.FlipID = rec.ID
		entry.Rolled = rec.Rolled
		entry.Jackpot = rec.Jackpot
	}
	if sess := e.Session(); sess != nil {
		entry.SessionID = sess.ID
	}

	log.WithFields(log.Fields{
		"wager":  m.wagerID,
		"source": source,
		"won":    won,
		"amount": amount.String(),
		"forced": rec == nil,
	}).Info("wager settled")

	if e.journal == nil {
		return
	}
	if err := e.journal.Set(m.wagerID, entry); err != nil {
		log.Errorf("failed to journal settlement %s: %v", m.wagerID, err)
	}
}

func (e *Engine) RefreshPool(ctx context.Context) PoolInfo {
	pool := e.reader.Pool(ctx)
	e.sink.RenderPoolPanel(pool)
	return pool
}

// Refresh reloads the displays outside of any wager: pool, stats and the
// player's history page.
func (e *Engine) Refresh(ctx context.Context, page int) {
	e.RefreshPool(ctx)

	sess := e.Session()
	if sess == nil {
		return
	}
	if stats, ok := e.reader.PlayerStats(ctx, sess.Player); ok {
		e.sink.RenderStatsPanel(stats)
	}
	if records, fresh := e.reader.RecentFlips(ctx); fresh {
		mine := sess.UpdateFlips(records)
		p, n := Paginate(mine, page, e.conf.PageSize)
		e.sink.RenderHistoryPage(p, n)
	}
}

// newestFor returns the player's record with the highest id.
func newestFor(records []FlipRecord, player common.Address) (FlipRecord, bool) {
	var (
		newest FlipRecord
		found  bool
	)
	for _, rec := range records {
		if rec.Player != player {
			continue
		}
		if !found || rec.ID > newest.ID {
			newest = rec
			found = true
		}
	}
	return newest, found
}

// findSettlement looks for the earliest record after the baseline that
// matches the wager.
func findSettlement(records []FlipRecord, m *outstandingMarker) (FlipRecord, bool) {
	var (
		match FlipRecord
		found bool
	)
	for _, rec := range records {
		if !m.settles(rec) {
			continue
		}
		if !found || rec.ID < match.ID {
			match = rec
			found = true
		}
	}
	return match, found
}
