// Package mcp implements the Model Context Protocol (MCP) server that lets
// AI clients observe and drive the indexer of one project.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

// JSON-RPC error codes returned by the tools. The -3200x range is ours.
const (
	ErrCodeIndexNotReady = -32001
	ErrCodeIndexCorrupt  = -32002
	ErrCodeTimeout       = -32003
	ErrCodeRebuildLocked = -32004
	ErrCodeProjectClosed = -32005
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a tool failure as the client sees it.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError reports a bad tool argument.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// protocolCodes maps error codes that clients can act on. Other coded
// errors map by category.
var protocolCodes = map[string]int{
	amerrors.ErrCodeIndexNotReady: ErrCodeIndexNotReady,
	amerrors.ErrCodeRebuildLocked: ErrCodeRebuildLocked,
	amerrors.ErrCodeLockBusy:      ErrCodeRebuildLocked,
	amerrors.ErrCodeCorruptIndex:  ErrCodeIndexCorrupt,
	amerrors.ErrCodeProjectClosed: ErrCodeProjectClosed,
}

// MapError converts err to the error returned to the client. Messages of
// uncoded errors are not passed on.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var ae *amerrors.AmanError
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.Suggestion != "" {
			msg += " " + ae.Suggestion
		}
		if code, ok := protocolCodes[ae.Code]; ok {
			return &MCPError{Code: code, Message: msg}
		}
		if ae.Category == amerrors.CategoryValidation {
			return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
		}
		return &MCPError{Code: ErrCodeInternalError, Message: msg}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}
