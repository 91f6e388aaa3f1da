package session

import "errors"

var (
	ErrInvalidArgument         = errors.New("session: invalid argument")
	ErrProviderOperationFailed = errors.New("session: provider operation failed")
	ErrNoMatchFound            = errors.New("session: no matching session found")
	ErrAddressResolutionFailed = errors.New("session: could not resolve connect address")
	ErrNoSession               = errors.New("session: no named session")
)
