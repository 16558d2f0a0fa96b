package worker

import "github.com/pkg/errors"

var (
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrWrongChain          = errors.New("wallet is on the wrong chain")
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrTransactionRejected = errors.New("transaction rejected or reverted")
	ErrInvalidStake        = errors.New("stake must be a positive amount")
	ErrWagerOutstanding    = errors.New("a wager is already outstanding")
	ErrPushUnavailable     = errors.New("push subscription unavailable")
)
