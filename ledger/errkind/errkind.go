// Package errkind defines the sentinel error values surfaced by the ledger
// and node packages. Call sites wrap one of these with github.com/pkg/errors
// so errors.Cause (or errors.Is) recovers the kind while the wrapped message
// keeps call-site detail.
package errkind

import "errors"

var (
	// ErrStoreMissing is returned when opening a BlockStore or UtxoIndex
	// that has not been created yet.
	ErrStoreMissing = errors.New("store missing")

	// ErrNotFound is returned when a block hash or transaction id is not
	// present in a store.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when the spendable outputs for an
	// address total less than the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransaction is returned when a signature fails to verify,
	// a referenced previous transaction is missing, or a coinbase is
	// malformed.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrSerialization is returned on a binary decode failure, whether
	// from a store value or a wire payload.
	ErrSerialization = errors.New("serialization error")

	// ErrIo is returned on filesystem, socket, or clock failures.
	ErrIo = errors.New("io error")

	// ErrUnknownCommand is returned when a frame is too short to hold its
	// 12-byte command tag. Payloads carry no variant marker of their own,
	// so the tag is the only dispatch key; a tag that matches no known
	// command is logged and dropped by the handler without this error.
	ErrUnknownCommand = errors.New("unknown command")
)
