package trade

import "errors"

var (
	ErrRecipientNotFound      = errors.New("recipient not found")
	ErrInitiatorNotFound      = errors.New("initiator not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidAsset           = errors.New("invalid asset")
	ErrInsufficientHoldings   = errors.New("insufficient holdings")
	ErrInsufficientFunds      = errors.New("recipient has insufficient funds")
	ErrSelfTrade              = errors.New("cannot trade with yourself")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrConcurrentModification = errors.New("account modified concurrently, retry")
)
