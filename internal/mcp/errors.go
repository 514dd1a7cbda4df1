package mcp

import (
	"context"
	"errors"
	"fmt"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
)

// Custom MCP error codes for AliceRAG.
const (
	// ErrCodeIndexNotFound indicates no index exists yet.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeDocumentNotFound indicates a document no longer exists on disk.
	ErrCodeDocumentNotFound = -32004

	// ErrCodeDocumentTooLarge indicates a document is too large to serve.
	ErrCodeDocumentTooLarge = -32005

	// ErrCodeStoreLocked indicates another process holds the index.
	ErrCodeStoreLocked = -32006

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrIndexNotFound indicates no index exists yet.
	ErrIndexNotFound = errors.New("index not found")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDocumentTooLarge indicates a document is too large to serve.
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
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

	var ragErr *alerrors.RagError
	if errors.As(err, &ragErr) {
		return mapRagError(ragErr)
	}

	switch {
	case errors.Is(err, ErrIndexNotFound):
		return &MCPError{
			Code:    ErrCodeIndexNotFound,
			Message: "Index not found. Run 'alicerag index' first.",
		}
	case errors.Is(err, ErrEmbeddingFailed):
		return &MCPError{
			Code:    ErrCodeEmbeddingFailed,
			Message: "Embedding generation failed. Using keyword-only results.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrDocumentTooLarge):
		return &MCPError{
			Code:    ErrCodeDocumentTooLarge,
			Message: "Document is too large to serve.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Resource not found.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapRagError converts a RagError to an MCPError by category and code.
func mapRagError(re *alerrors.RagError) *MCPError {
	message := re.Message
	if re.Suggestion != "" {
		message = fmt.Sprintf("%s %s", re.Message, re.Suggestion)
	}

	switch re.Category {
	case alerrors.CategoryStorage:
		switch re.Code {
		case alerrors.ErrCodeFileNotFound:
			return &MCPError{
				Code:    ErrCodeDocumentNotFound,
				Message: message,
			}
		case alerrors.ErrCodeFileTooLarge:
			return &MCPError{
				Code:    ErrCodeDocumentTooLarge,
				Message: message,
			}
		case alerrors.ErrCodeStoreCorrupt:
			return &MCPError{
				Code:    ErrCodeIndexNotFound,
				Message: message,
			}
		case alerrors.ErrCodeStoreLocked:
			return &MCPError{
				Code:    ErrCodeStoreLocked,
				Message: message,
			}
		default:
			return &MCPError{
				Code:    ErrCodeInternalError,
				Message: message,
			}
		}
	case alerrors.CategoryService:
		if re.Code == alerrors.ErrCodeServiceTimeout {
			return &MCPError{
				Code:    ErrCodeTimeout,
				Message: message,
			}
		}
		return &MCPError{
			Code:    ErrCodeEmbeddingFailed,
			Message: message,
		}
	case alerrors.CategoryValidation:
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: message,
		}
	default: // CategoryConfig, CategoryInternal, and unknown
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: message,
		}
	}
}
