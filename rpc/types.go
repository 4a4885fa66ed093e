// Package rpc exposes chain, ledger and sale state via a JSON-RPC 2.0 HTTP
// endpoint and accepts signed transactions into the mempool.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/dmachain/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes, followed by server-defined ones.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeUnauthorized = -32000
	CodeNotFound     = -32001
	CodeRejected     = -32002 // transaction or block refused
)

// paramError marks a malformed or missing parameter.
type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func invalidParams(msg string) error { return &paramError{msg: msg} }

// codeFor classifies err into a JSON-RPC error code.
func codeFor(err error) int {
	var pe *paramError
	switch {
	case errors.As(err, &pe):
		return CodeInvalidParams
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, errBlockRejected),
		errors.Is(err, core.ErrMempoolFull),
		errors.Is(err, core.ErrTxKnown),
		errors.Is(err, core.ErrNonceTaken),
		errors.Is(err, core.ErrTxOutOfRange):
		return CodeRejected
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrInvalidQuantity):
		return CodeInvalidParams
	}
	return CodeInternalError
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
