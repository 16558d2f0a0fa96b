package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// BlockRange is an inclusive block interval. From > To means empty.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) Empty() bool {
	return r.From > r.To
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d..%d]", r.From, r.To)
}

// PlayerFunc reports the current player, if any.
type PlayerFunc func() (common.Address, bool)

// Poller re-queries FlipResult logs over the blocks produced since its last
// successful tick.
type Poller struct {
	source FlipEventSource
	player PlayerFunc
	out    chan<- ResultCandidate

	mu     sync.Mutex
	cursor uint64
	ready  bool
}

func NewPoller(source FlipEventSource, player PlayerFunc, out chan<- ResultCandidate) *Poller {
	return &Poller{
		source: source,
		player: player,
		out:    out,
	}
}

// Init positions the cursor at the current head so only blocks produced
// from now on are scanned.
func (p *Poller) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked(ctx)
}

func (p *Poller) initLocked(ctx context.Context) error {
	head, err := p.source.BlockNumber(ctx)
	if err != nil {
		return err
	}
	p.cursor = head
	p.ready = true
	log.Infof("poller: starting after block %d", head)
	return nil
}

// Reset forgets the cursor; the next tick re-initialises at the head.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.ready = false
	p.mu.Unlock()
}

func (p *Poller) Cursor() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Tick is pollOnce with the result discarded, for use as a scheduler job.
func (p *Poller) Tick(ctx context.Context) {
	_, _ = p.pollOnce(ctx)
}

// pollOnce scans [cursor+1, head] and forwards the current player's
// settlements. The cursor only moves once the range was read successfully.
func (p *Poller) pollOnce(ctx context.Context) (BlockRange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		if err := p.initLocked(ctx); err != nil {
			log.Errorf("poller: failed to read head: %v", err)
			return BlockRange{}, err
		}
		return BlockRange{From: p.cursor + 1, To: p.cursor}, nil
	}

	head, err := p.source.BlockNumber(ctx)
	if err != nil {
		log.Errorf("poller: failed to read head: %v", err)
		return BlockRange{}, err
	}

	rng := BlockRange{From: p.cursor + 1, To: head}
	if rng.Empty() {
		return rng, nil
	}

	player, ok := p.player()
	if !ok {
		p.cursor = head
		return rng, nil
	}

	events, err := p.source.FilterFlipResults(ctx, rng.From, rng.To, player)
	if err != nil {
		log.Errorf("poller: failed to fetch FlipResult logs in %s: %v", rng, err)
		return rng, err
	}

	for _, ev := range events {
		if ev.Player != player {
			continue
		}
		log.WithFields(log.Fields{"block": ev.Raw.BlockNumber, "tx": ev.Raw.TxHash.Hex()}).Debug("poller: settlement found")
		select {
		case p.out <- candidateFrom(SourcePoll, ev):
		case <-ctx.Done():
			return rng, ctx.Err()
		}
	}

	p.cursor = head
	return rng, nil
}
