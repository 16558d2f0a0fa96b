package worker

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"nadflip-web-worker/config"
	"nadflip-web-worker/worker/store"
)

const candidateBuffer = 64

// Deps are the collaborators of a WorkerService. NewWorkerService builds them
// from the config; tests pass fakes to NewWorkerServiceWith.
type Deps struct {
	Caller     ContractCaller
	Transactor FlipTransactor
	Events     FlipEventSource
	Wallet     Wallet
	Journal    store.Store
	Push       bool
}

type WorkerService struct {
	conf       *config.Config
	deps       Deps
	reader     *ChainReader
	engine     *Engine
	poller     *Poller
	subscriber *Subscriber
	candidates chan ResultCandidate

	mu        sync.Mutex
	scheduler *Scheduler
}

func NewWorkerService(ctx context.Context, conf *config.Config, sink PresentationSink) (*WorkerService, error) {
	log.Println("Worker init...")

	rpc, err := ethclient.DialContext(ctx, conf.RPCURL)
	if err != nil {
		return nil, errors.WithMessage(ErrNetworkUnavailable, err.Error())
	}
	log.Infof("rpc client init: %s", conf.RPCURL)

	var ws *ethclient.Client
	if conf.WSURL != "" {
		ws, err = ethclient.DialContext(ctx, conf.WSURL)
		if err != nil {
			log.Warnf("websocket endpoint %s unavailable, relying on polling: %v", conf.WSURL, err)
			ws = nil
		}
	}

	if !common.IsHexAddress(conf.ContractAddr) {
		return nil, errors.Errorf("invalid contract address %q", conf.ContractAddr)
	}
	contract, err := NewContract(common.HexToAddress(conf.ContractAddr), rpc, ws)
	if err != nil {
		return nil, err
	}

	var wallet Wallet
	if conf.PlayerKey != "" {
		kw, err := NewKeyWallet(conf.PlayerKey, rpc)
		if err != nil {
			return nil, err
		}
		kw.Connect()
		wallet = kw
		log.Infof("wallet connected: %s", kw.address.Hex())
	} else {
		log.Info("no player key configured, read-only mode")
		wallet = NewReadOnlyWallet(rpc)
	}

	var journal store.Store
	if conf.RedisAddr != "" {
		journal, err = store.NewRedisStore(conf.RedisAddr, conf.RedisPassword)
		if err != nil {
			return nil, errors.Wrap(err, "settlement journal")
		}
		log.Infof("settlement journal on redis %s", conf.RedisAddr)
	} else {
		journal = store.NewMemoryStore()
	}

	return NewWorkerServiceWith(conf, Deps{
		Caller:     contract,
		Transactor: contract,
		Events:     contract,
		Wallet:     wallet,
		Journal:    journal,
		Push:       ws != nil,
	}, sink), nil
}

func NewWorkerServiceWith(conf *config.Config, deps Deps, sink PresentationSink) *WorkerService {
	s := &WorkerService{
		conf:       conf,
		deps:       deps,
		reader:     NewChainReader(deps.Caller, conf.Tuning.HistorySize),
		candidates: make(chan ResultCandidate, candidateBuffer),
	}
	s.engine = NewEngine(EngineConfig{
		ChainID:          big.NewInt(conf.ChainID),
		GasLimit:         conf.Tuning.GasLimit,
		FallbackDeadline: conf.Tuning.FallbackDeadline,
		PageSize:         conf.Tuning.PageSize,
	}, s.reader, deps.Events, deps.Transactor, deps.Wallet, sink, deps.Journal)
	s.poller = NewPoller(deps.Events, s.engine.Player, s.candidates)
	s.subscriber = NewSubscriber(deps.Events, s.engine.Player, s.candidates)

	deps.Wallet.OnStateChanged(func(st WalletState) {
		if !st.Connected {
			log.Infof("wallet %s disconnected", st.Address.Hex())
			s.Disconnect()
		}
	})
	return s
}

func (s *WorkerService) Engine() *Engine {
	return s.engine
}

// Connected reports whether a session is live.
func (s *WorkerService) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler != nil
}

// Connect opens a session for the wallet's account and starts the result
// channels. Calling it on a live session is a no-op.
func (s *WorkerService) Connect(ctx context.Context) error {
	player, err := s.deps.Wallet.Address()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.scheduler != nil {
		s.mu.Unlock()
		return nil
	}

	sess := NewSession(player)
	s.engine.SetSession(sess)
	if err := s.poller.Init(ctx); err != nil {
		log.Warnf("poller init failed, retrying on next tick: %v", err)
	}

	t := s.conf.Tuning
	sched := NewScheduler(ctx)
	sched.Go("engine", func(ctx context.Context) {
		s.engine.Run(ctx, s.candidates)
	})
	sched.Every("poll", t.PollInterval, s.poller.Tick)
	sched.Every("fallback", t.FallbackCheckInterval, func(ctx context.Context) {
		select {
		case s.candidates <- ResultCandidate{Source: SourceFallback}:
		case <-ctx.Done():
		}
	})
	sched.Every("pool", t.PoolRefreshInterval, s.refresh)
	s.scheduler = sched
	s.mu.Unlock()

	log.WithFields(log.Fields{"session": sess.ID, "player": player.Hex()}).Info("session started")

	s.attach(ctx)
	s.engine.Refresh(ctx, 1)
	return nil
}

func (s *WorkerService) attach(ctx context.Context) {
	if !s.deps.Push || s.subscriber.Attached() {
		return
	}
	if err := s.subscriber.Attach(ctx); err != nil {
		log.Warnf("push channel not attached: %v", err)
	}
}

// refresh reloads the pool panel and re-attaches the push channel if it
// dropped.
func (s *WorkerService) refresh(ctx context.Context) {
	s.engine.RefreshPool(ctx)
	s.attach(ctx)
}

// Disconnect tears the session down: every timer, the push listener and the
// poll cursor. Any outstanding wager is abandoned.
func (s *WorkerService) Disconnect() {
	s.mu.Lock()
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if sched == nil {
		return
	}
	sched.StopAll()
	s.subscriber.Detach()
	s.poller.Reset()
	s.engine.SetSession(nil)
	log.Info("session closed")
}

// Run keeps a session open until ctx is done.
func (s *WorkerService) Run(ctx context.Context) error {
	log.Println("Worker starting...")
	if err := s.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Disconnect()
	return nil
}

func (s *WorkerService) Flip(ctx context.Context, stake decimal.Decimal, guessHigh bool) (Wager, error) {
	return s.engine.Submit(ctx, stake, guessHigh)
}

func (s *WorkerService) Pool(ctx context.Context) PoolInfo {
	return s.engine.RefreshPool(ctx)
}

// Stats loads the stats of player, or of the connected wallet when player is
// the zero address.
func (s *WorkerService) Stats(ctx context.Context, player common.Address) (PlayerStats, error) {
	if player == (common.Address{}) {
		addr, err := s.deps.Wallet.Address()
		if err != nil {
			return PlayerStats{}, err
		}
		player = addr
	}
	stats, ok := s.reader.PlayerStats(ctx, player)
	if !ok {
		return stats, errors.WithMessage(ErrNetworkUnavailable, "player stats unavailable")
	}
	s.engine.sink.RenderStatsPanel(stats)
	return stats, nil
}

// History renders one page of recent flips, all players or only the
// wallet's own.
func (s *WorkerService) History(ctx context.Context, page int, mine bool) ([]FlipRecord, int, error) {
	records, fresh := s.reader.RecentFlips(ctx)
	if !fresh {
		return nil, 0, errors.WithMessage(ErrNetworkUnavailable, "recent flips unavailable")
	}
	if mine {
		player, err := s.deps.Wallet.Address()
		if err != nil {
			return nil, 0, err
		}
		records = FilterByPlayer(records, player)
	}
	rows, served := Paginate(records, page, s.conf.Tuning.PageSize)
	s.engine.sink.RenderHistoryPage(rows, served)
	return rows, TotalPages(len(records), s.conf.Tuning.PageSize), nil
}

// Settlement looks up a journaled settlement by wager id.
func (s *WorkerService) Settlement(wagerID string) (*store.Settlement, error) {
	return s.deps.Journal.Get(wagerID)
}
