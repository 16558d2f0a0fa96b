package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nadflip-web-worker/config"
	"nadflip-web-worker/worker/store"
)

type serviceFixture struct {
	service *WorkerService
	caller  *fakeCaller
	events  *fakeEvents
	wallet  *fakeWallet
	sink    *recordingSink
	journal store.Store
}

func newServiceFixture(t *testing.T, push bool, deadline time.Duration) *serviceFixture {
	t.Helper()
	conf := &config.Config{
		ChainID: testChainID.Int64(),
		Tuning: config.Tuning{
			PollInterval:          20 * time.Millisecond,
			FallbackCheckInterval: 20 * time.Millisecond,
			FallbackDeadline:      deadline,
			PoolRefreshInterval:   20 * time.Millisecond,
			HistorySize:           1000,
			PageSize:              15,
			GasLimit:              600000,
		},
	}
	f := &serviceFixture{
		caller:  newFakeCaller(),
		events:  newFakeEvents(10),
		wallet:  newFakeWallet(alice),
		sink:    &recordingSink{},
		journal: store.NewMemoryStore(),
	}
	f.caller.addFlip(FlipRecord{ID: 1, Player: bob, Wagered: mon("2"), Rolled: 120, Won: true})
	f.service = NewWorkerServiceWith(conf, Deps{
		Caller:     f.caller,
		Transactor: &fakeTransactor{},
		Events:     f.events,
		Wallet:     f.wallet,
		Journal:    f.journal,
		Push:       push,
	}, f.sink)
	t.Cleanup(f.service.Disconnect)
	return f
}

func TestWorkerService_ConnectSchedulesJobs(t *testing.T) {
	f := newServiceFixture(t, true, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.service.Connect(ctx))
	require.NoError(t, f.service.Connect(ctx))

	assert.True(t, f.service.Connected())
	assert.Equal(t, []string{"engine", "fallback", "poll", "pool"}, f.service.scheduler.Active())
	assert.True(t, f.service.subscriber.Attached())
	assert.Equal(t, 1, f.events.WatchCalls())
	assert.NotNil(t, f.service.Engine().Session())
}

func TestWorkerService_ConnectRequiresWallet(t *testing.T) {
	f := newServiceFixture(t, false, time.Hour)
	f.wallet.connected = false

	assert.ErrorIs(t, f.service.Connect(context.Background()), ErrWalletNotConnected)
	assert.False(t, f.service.Connected())
}

func TestWorkerService_WalletDisconnectTearsDown(t *testing.T) {
	f := newServiceFixture(t, true, time.Hour)
	require.NoError(t, f.service.Connect(context.Background()))

	f.wallet.disconnect()

	assert.False(t, f.service.Connected())
	assert.False(t, f.service.subscriber.Attached())
	assert.Nil(t, f.service.Engine().Session())
}

func TestWorkerService_SettlesFromPush(t *testing.T) {
	f := newServiceFixture(t, true, time.Hour)
	ctx := context.Background()
	require.NoError(t, f.service.Connect(ctx))

	w, err := f.service.Flip(ctx, mon("1"), true)
	require.NoError(t, err)

	f.caller.addFlip(FlipRecord{ID: 2, Player: alice, Wagered: mon("1"), Rolled: 880, Won: true, GuessHigh: true})
	f.events.feed <- flipEvent(alice, 11, 0, 880, true, true, "1.984")

	require.Eventually(t, func() bool { return len(f.sink.Reveals()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.sink.Reveals()[0].won)
	require.Eventually(t, func() bool { return f.service.Engine().State() == WagerIdle }, 2*time.Second, 10*time.Millisecond)

	entry, err := f.service.Settlement(w.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), entry.FlipID)
}

func TestWorkerService_SettlesFromPoll(t *testing.T) {
	f := newServiceFixture(t, false, time.Hour)
	ctx := context.Background()
	require.NoError(t, f.service.Connect(ctx))

	_, err := f.service.Flip(ctx, mon("1"), false)
	require.NoError(t, err)

	f.caller.addFlip(FlipRecord{ID: 2, Player: alice, Wagered: mon("1"), Rolled: 880, Won: false, GuessHigh: false})
	f.events.add(flipEvent(alice, 12, 0, 880, false, false, "0"))
	f.events.setHead(12)

	require.Eventually(t, func() bool { return len(f.sink.Reveals()) == 1 }, 2*time.Second, 10*time.Millisecond)
	r := f.sink.Reveals()[0]
	assert.False(t, r.won)
	assert.True(t, r.amount.Equal(mon("1")))
}

func TestWorkerService_FallbackForcesLoss(t *testing.T) {
	f := newServiceFixture(t, false, 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, f.service.Connect(ctx))

	w, err := f.service.Flip(ctx, mon("3"), true)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.sink.Reveals()) == 1 }, 2*time.Second, 10*time.Millisecond)
	r := f.sink.Reveals()[0]
	assert.False(t, r.won)
	assert.True(t, r.amount.Equal(mon("3")))
	assert.True(t, r.guessHigh)

	require.Eventually(t, func() bool {
		entry, err := f.service.Settlement(w.ID)
		return err == nil && entry.Forced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerService_ReadOnlyViews(t *testing.T) {
	f := newServiceFixture(t, false, time.Hour)
	ctx := context.Background()
	f.caller.addFlip(FlipRecord{ID: 2, Player: alice, Wagered: mon("1"), Rolled: 880, Won: true, GuessHigh: true})

	pool := f.service.Pool(ctx)
	assert.True(t, pool.JackpotAvailable)
	assert.True(t, pool.Jackpot.Equal(mon("10")))

	rows, pages, err := f.service.History(ctx, 1, false)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 1, pages)

	rows, _, err = f.service.History(ctx, 1, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, alice, rows[0].Player)

	stats, err := f.service.Stats(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, bob, stats.Player)

	_, err = f.service.Settlement("unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
