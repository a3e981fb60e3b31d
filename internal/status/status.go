package status

import "errors"

var (
	ErrTicketNotFound      = errors.New("ticket: ticket not found")
	ErrShowNotFound        = errors.New("show: show not found")
	ErrWalletNotFound      = errors.New("wallet: wallet not found")
	ErrTransactionNotFound = errors.New("transaction: transaction not found")
	ErrCreatorNotFound     = errors.New("creator: creator not found")
	ErrInvalidTransition   = errors.New("machine: event not allowed in current state")
	ErrNoSale              = errors.New("ticket: no sale to refund")
	ErrNoRefund            = errors.New("ticket: no refund for dispute")
	ErrPayoutNotPending    = errors.New("wallet: payout not in pending state")
	ErrPayoutNotSent       = errors.New("wallet: payout not in sent state")
	ErrInsufficientBalance = errors.New("wallet: insufficient available balance")
	ErrSoldOut             = errors.New("show: no tickets available")
)
