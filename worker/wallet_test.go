package worker

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

type staticChain struct {
	id  *big.Int
	err error
}

func (c staticChain) ChainID(ctx context.Context) (*big.Int, error) {
	return c.id, c.err
}

func TestKeyWallet_ConnectLifecycle(t *testing.T) {
	w, err := NewKeyWallet(testKey, staticChain{id: testChainID})
	require.NoError(t, err)

	_, err = w.Address()
	assert.ErrorIs(t, err, ErrWalletNotConnected)

	var states []WalletState
	w.OnStateChanged(func(s WalletState) { states = append(states, s) })

	w.Connect()
	w.Connect()
	addr, err := w.Address()
	require.NoError(t, err)

	key, err := crypto.HexToECDSA(testKey[2:])
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	opts, err := w.Transactor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr, opts.From)

	w.Disconnect()
	require.Len(t, states, 2)
	assert.True(t, states[0].Connected)
	assert.False(t, states[1].Connected)

	_, err = w.Transactor(context.Background())
	assert.ErrorIs(t, err, ErrWalletNotConnected)
}

func TestKeyWallet_InvalidKey(t *testing.T) {
	_, err := NewKeyWallet("not-a-key", staticChain{id: testChainID})
	assert.Error(t, err)
}

func TestKeyWallet_SwitchChainOnlyToServedChain(t *testing.T) {
	w, err := NewKeyWallet(testKey, staticChain{id: testChainID})
	require.NoError(t, err)

	assert.NoError(t, w.SwitchChain(context.Background(), testChainID))
	assert.Error(t, w.SwitchChain(context.Background(), big.NewInt(1)))
}

func TestEnsureNetwork(t *testing.T) {
	ctx := context.Background()

	w := newFakeWallet(alice)
	assert.NoError(t, EnsureNetwork(ctx, w, testChainID))

	w.chainID = big.NewInt(1)
	assert.NoError(t, EnsureNetwork(ctx, w, testChainID))
	assert.Equal(t, 0, w.chainID.Cmp(testChainID))

	w.chainID = big.NewInt(1)
	w.switchErr = errBoom
	assert.ErrorIs(t, EnsureNetwork(ctx, w, testChainID), ErrWrongChain)

	w.chainErr = errBoom
	assert.ErrorIs(t, EnsureNetwork(ctx, w, testChainID), ErrNetworkUnavailable)
}

func TestEnsureNetwork_KeyWalletOnWrongEndpoint(t *testing.T) {
	w, err := NewKeyWallet(testKey, staticChain{id: big.NewInt(1)})
	require.NoError(t, err)
	w.Connect()

	assert.ErrorIs(t, EnsureNetwork(context.Background(), w, testChainID), ErrWrongChain)
}

func TestReadOnlyWallet(t *testing.T) {
	w := NewReadOnlyWallet(staticChain{id: testChainID})
	assert.False(t, w.IsConnected())
	_, err := w.Address()
	assert.ErrorIs(t, err, ErrWalletNotConnected)
	_, err = w.Transactor(context.Background())
	assert.ErrorIs(t, err, ErrWalletNotConnected)
}
