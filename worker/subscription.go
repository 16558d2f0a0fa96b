package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Subscriber keeps a single live FlipResult subscription for the current
// player. Attach may be called any number of times; only the first call
// after a detach registers a listener.
type Subscriber struct {
	source FlipEventSource
	player PlayerFunc
	out    chan<- ResultCandidate

	attached atomic.Bool

	mu     sync.Mutex
	sub    event.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(source FlipEventSource, player PlayerFunc, out chan<- ResultCandidate) *Subscriber {
	return &Subscriber{
		source: source,
		player: player,
		out:    out,
	}
}

func (s *Subscriber) Attached() bool {
	return s.attached.Load()
}

func (s *Subscriber) Attach(ctx context.Context) error {
	if !s.attached.CompareAndSwap(false, true) {
		return nil
	}

	player, ok := s.player()
	if !ok {
		s.attached.Store(false)
		return ErrWalletNotConnected
	}

	subCtx, cancel := context.WithCancel(ctx)
	events := make(chan *FlipResultEvent, 16)
	sub, err := s.source.WatchFlipResults(subCtx, player, events)
	if err != nil {
		cancel()
		s.attached.Store(false)
		if errors.Is(err, ErrPushUnavailable) {
			log.Warn("subscriber: no websocket endpoint, relying on polling")
		} else {
			log.Errorf("subscriber: failed to subscribe to FlipResult: %v", err)
		}
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.cancel != nil {
		// left over from a subscription that dropped on its own
		s.cancel()
	}
	s.sub = sub
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	log.Infof("subscriber: listening for FlipResult of %s", player.Hex())
	go s.loop(subCtx, sub, events, done)
	return nil
}

func (s *Subscriber) loop(ctx context.Context, sub event.Subscription, events <-chan *FlipResultEvent, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Err():
			if ok && err != nil {
				log.Errorf("subscriber: subscription dropped: %v", err)
			}
			// let the next Attach re-register
			s.attached.Store(false)
			return
		case ev := <-events:
			player, ok := s.player()
			if !ok || ev.Player != player {
				continue
			}
			log.WithField("tx", ev.Raw.TxHash.Hex()).Debug("subscriber: settlement pushed")
			select {
			case s.out <- candidateFrom(SourcePush, ev):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Detach drops the live subscription, if any.
func (s *Subscriber) Detach() {
	s.mu.Lock()
	sub, cancel, done := s.sub, s.cancel, s.done
	s.sub, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		cancel()
		<-done
	}
	s.attached.Store(false)
}
