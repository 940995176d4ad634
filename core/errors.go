package core

import (
	"errors"
	"fmt"
)

var (
	// Wallet provider errors
	ErrProviderUnavailable = errors.New("wallet provider unavailable")
	ErrUserRejected        = errors.New("request rejected by user")
	ErrRequestPending      = errors.New("wallet request already pending")
	ErrNoAccounts          = errors.New("wallet returned no accounts")
	ErrUnrecognizedChain   = errors.New("chain not registered in wallet")
	ErrNotConnected        = errors.New("wallet not connected")

	// Session errors
	ErrSessionExpired     = errors.New("session expired")
	ErrAccountMismatch    = errors.New("session account does not match wallet account")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionSuperseded  = errors.New("session superseded by a newer account")
	ErrRemoteAuth         = errors.New("remote authentication failed")
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// Backend errors
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrTokenExpired     = errors.New("token has expired")
	ErrInvalidAddress   = errors.New("invalid ethereum address")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrWidgetNotFound   = errors.New("widget not found")
	ErrForbidden        = errors.New("forbidden")
)

// EIP-1193 and wallet RPC error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeDisconnected      = 4900
	CodeUnrecognizedChain = 4902
	CodeRequestPending    = -32002
)

// ProviderError is an error reported by the wallet provider.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// Unwrap maps well-known provider codes onto the package sentinels.
func (e *ProviderError) Unwrap() error {
	switch e.Code {
	case CodeUserRejected:
		return ErrUserRejected
	case CodeRequestPending:
		return ErrRequestPending
	case CodeUnrecognizedChain:
		return ErrUnrecognizedChain
	case CodeDisconnected:
		return ErrNotConnected
	}
	return nil
}
