// Package mcp exposes the index to AI clients over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ierrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Custom MCP error codes for repoindex.
const (
	// ErrCodeIndexNotFound indicates no usable index exists for the project.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEncoderUnavailable indicates the embedding encoder cannot serve
	// the index.
	ErrCodeEncoderUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeBuildInProgress indicates a build holds the index lock.
	ErrCodeBuildInProgress = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var ie *ierrors.IndexError
	if !errors.As(err, &ie) {
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}

	message := ie.Message
	if ie.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ie.Message, ie.Suggestion)
	}

	switch ie.Code {
	case ierrors.ErrCodeNoIndex, ierrors.ErrCodeCorruptIndex, ierrors.ErrCodeConfigMismatch:
		return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
	case ierrors.ErrCodeBuildInProgress:
		return &MCPError{Code: ErrCodeBuildInProgress, Message: message}
	}

	switch ie.Category {
	case ierrors.CategoryEncoder:
		return &MCPError{Code: ErrCodeEncoderUnavailable, Message: message}
	case ierrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}
