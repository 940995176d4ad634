package provider

import (
	"errors"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/xcafe/core"
)

// codeMethodNotFound is the JSON-RPC code for an unknown method.
const codeMethodNotFound = -32601

// translateError converts JSON-RPC errors into *core.ProviderError so callers
// can match them against the core sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &core.ProviderError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return err
}

func isMethodNotFound(err error) bool {
	var perr *core.ProviderError
	return errors.As(err, &perr) && (perr.Code == codeMethodNotFound || perr.Code == core.CodeUnsupportedMethod)
}
