package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound           = fmt.Errorf("not found")
	ErrDuplicate          = fmt.Errorf("duplicate")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")
	ErrStrandStore        = fmt.Errorf("strand store operation failed")
	ErrEmbeddingFailed    = fmt.Errorf("embedding generation failed")
	ErrVectorSearch       = fmt.Errorf("vector search failed")
	ErrRoutingFailed      = fmt.Errorf("routing decision failed")
	ErrMessageExpired     = fmt.Errorf("message expired")
	ErrUnknownMessageType = fmt.Errorf("unknown message type")
	ErrMalformedContent   = fmt.Errorf("malformed strand content")
	ErrAgentInactive      = fmt.Errorf("agent inactive")
	ErrProtocolStopped    = fmt.Errorf("protocol not running")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Router.Route")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeStrandStore        ErrorCode = "STRAND_STORE"
	CodeEmbeddingFailed    ErrorCode = "EMBEDDING_FAILED"
	CodeVectorSearch       ErrorCode = "VECTOR_SEARCH"
	CodeRoutingFailed      ErrorCode = "ROUTING_FAILED"
	CodeMessageExpired     ErrorCode = "MESSAGE_EXPIRED"
	CodeUnknownMessageType ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	CodeMalformedContent   ErrorCode = "MALFORMED_CONTENT"
	CodeAgentInactive      ErrorCode = "AGENT_INACTIVE"
	CodeProtocolStopped    ErrorCode = "PROTOCOL_STOPPED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:           CodeNotFound,
	ErrDuplicate:          CodeDuplicate,
	ErrInvalidInput:       CodeInvalidInput,
	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrStrandStore:        CodeStrandStore,
	ErrEmbeddingFailed:    CodeEmbeddingFailed,
	ErrVectorSearch:       CodeVectorSearch,
	ErrRoutingFailed:      CodeRoutingFailed,
	ErrMessageExpired:     CodeMessageExpired,
	ErrUnknownMessageType: CodeUnknownMessageType,
	ErrMalformedContent:   CodeMalformedContent,
	ErrAgentInactive:      CodeAgentInactive,
	ErrProtocolStopped:    CodeProtocolStopped,
}

// ErrorCodeOf returns the machine-parseable code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown when no sentinel matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
