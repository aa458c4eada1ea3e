package core

import "errors"

var (
	// ErrInsufficientBalance indicates the venue rejected the action due to insufficient funds.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotFound indicates the order does not exist on the venue.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderRejected indicates the order was rejected by the venue.
	ErrOrderRejected = errors.New("order rejected")
	// ErrNotSupported indicates the venue does not implement the requested capability.
	ErrNotSupported = errors.New("not supported")
	// ErrEmptyBook indicates an order book without a usable top of book.
	ErrEmptyBook = errors.New("order book empty")
)
