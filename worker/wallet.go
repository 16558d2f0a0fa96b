package worker

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type WalletState struct {
	Connected bool
	Address   common.Address
}

// Wallet is the session provider: it knows the player's account, the chain
// it is signing for, and tells listeners when either changes.
type Wallet interface {
	IsConnected() bool
	Address() (common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	Transactor(ctx context.Context) (*bind.TransactOpts, error)
	OnStateChanged(fn func(WalletState))
}

type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// KeyWallet signs with a raw secp256k1 key against a single RPC endpoint.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	node    ChainIDReader

	mu        sync.Mutex
	connected bool
	listeners []func(WalletState)
}

func NewKeyWallet(hexKey string, node ChainIDReader) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid player key")
	}
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		node:    node,
	}, nil
}

func (w *KeyWallet) Connect() {
	w.setConnected(true)
}

func (w *KeyWallet) Disconnect() {
	w.setConnected(false)
}

func (w *KeyWallet) setConnected(connected bool) {
	w.mu.Lock()
	changed := w.connected != connected
	w.connected = connected
	listeners := append([]func(WalletState){}, w.listeners...)
	w.mu.Unlock()

	if !changed {
		return
	}
	state := WalletState{Connected: connected, Address: w.address}
	for _, fn := range listeners {
		fn(state)
	}
}

func (w *KeyWallet) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *KeyWallet) Address() (common.Address, error) {
	if !w.IsConnected() {
		return common.Address{}, ErrWalletNotConnected
	}
	return w.address, nil
}

func (w *KeyWallet) ChainID(ctx context.Context) (*big.Int, error) {
	return w.node.ChainID(ctx)
}

// SwitchChain cannot move a key wallet to another network; it only succeeds
// if the endpoint already serves the requested chain.
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	current, err := w.node.ChainID(ctx)
	if err != nil {
		return err
	}
	if current.Cmp(chainID) != 0 {
		return errors.Errorf("rpc endpoint serves chain %s, not %s", current, chainID)
	}
	return nil
}

func (w *KeyWallet) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	if !w.IsConnected() {
		return nil, ErrWalletNotConnected
	}
	chainID, err := w.node.ChainID(ctx)
	if err != nil {
		return nil, errors.WithMessage(ErrNetworkUnavailable, err.Error())
	}
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (w *KeyWallet) OnStateChanged(fn func(WalletState)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// EnsureNetwork makes sure the wallet is signing for the expected chain,
// asking it to switch when it is not.
func EnsureNetwork(ctx context.Context, wallet Wallet, expected *big.Int) error {
	current, err := wallet.ChainID(ctx)
	if err != nil {
		return errors.WithMessage(ErrNetworkUnavailable, err.Error())
	}
	if current.Cmp(expected) == 0 {
		return nil
	}

	log.Warnf("wallet is on chain %s, switching to %s", current, expected)
	if err := wallet.SwitchChain(ctx, expected); err != nil {
		return errors.WithMessagef(ErrWrongChain, "switch to chain %s failed: %v", expected, err)
	}
	log.Infof("switched to chain %s", expected)
	return nil
}

// ReadOnlyWallet is used when no player key is configured. It never
// connects, so only the read-only views work.
type ReadOnlyWallet struct {
	node ChainIDReader
}

func NewReadOnlyWallet(node ChainIDReader) *ReadOnlyWallet {
	return &ReadOnlyWallet{node: node}
}

func (w *ReadOnlyWallet) IsConnected() bool { return false }

func (w *ReadOnlyWallet) Address() (common.Address, error) {
	return common.Address{}, ErrWalletNotConnected
}

func (w *ReadOnlyWallet) ChainID(ctx context.Context) (*big.Int, error) {
	return w.node.ChainID(ctx)
}

func (w *ReadOnlyWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	return ErrWalletNotConnected
}

func (w *ReadOnlyWallet) Transactor(ctx context.Context) (*bind.TransactOpts, error) {
	return nil, ErrWalletNotConnected
}

func (w *ReadOnlyWallet) OnStateChanged(fn func(WalletState)) {}
