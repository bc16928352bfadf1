package errors

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for replica operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument      ErrorCode = 1000
	ErrCodeInvalidKey           ErrorCode = 1001
	ErrCodeValueTooLarge        ErrorCode = 1002
	ErrCodeInvalidCausalContext ErrorCode = 1003
	ErrCodeInvalidQuorum        ErrorCode = 1004
	ErrCodeInvalidMode          ErrorCode = 1005

	// Server errors (5xx equivalent)
	ErrCodeInternal          ErrorCode = 2000
	ErrCodeUnavailable       ErrorCode = 2001
	ErrCodeLockTimeout       ErrorCode = 2002
	ErrCodePeerUnavailable   ErrorCode = 2003
	ErrCodeQuorumUnavailable ErrorCode = 2004
)

const errorDomain = "ndckv"

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                   "OK",
	ErrCodeInvalidArgument:      "INVALID_ARGUMENT",
	ErrCodeInvalidKey:           "INVALID_KEY",
	ErrCodeValueTooLarge:        "VALUE_TOO_LARGE",
	ErrCodeInvalidCausalContext: "INVALID_CAUSAL_CONTEXT",
	ErrCodeInvalidQuorum:        "INVALID_QUORUM",
	ErrCodeInvalidMode:          "INVALID_MODE",
	ErrCodeInternal:             "INTERNAL",
	ErrCodeUnavailable:          "UNAVAILABLE",
	ErrCodeLockTimeout:          "LOCK_TIMEOUT",
	ErrCodePeerUnavailable:      "PEER_UNAVAILABLE",
	ErrCodeQuorumUnavailable:    "QUORUM_UNAVAILABLE",
}

// String implements fmt.Stringer
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "CODE_" + strconv.Itoa(int(c))
}

func parseCode(name string) (ErrorCode, bool) {
	for code, n := range codeNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// ReplicaError represents a structured error with code and context
type ReplicaError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *ReplicaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ReplicaError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts ReplicaError to gRPC status. The internal code travels
// as an ErrorInfo detail so FromGRPC can restore it.
func (e *ReplicaError) ToGRPCStatus() *status.Status {
	st := status.New(e.toGRPCCode(), e.Error())
	info := &errdetails.ErrorInfo{
		Reason:   e.Code.String(),
		Domain:   errorDomain,
		Metadata: make(map[string]string, len(e.Details)),
	}
	for k, v := range e.Details {
		info.Metadata[k] = fmt.Sprint(v)
	}
	if detailed, err := st.WithDetails(info); err == nil {
		return detailed
	}
	return st
}

// GRPCStatus lets grpc-go translate a returned ReplicaError directly
func (e *ReplicaError) GRPCStatus() *status.Status {
	return e.ToGRPCStatus()
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *ReplicaError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidKey, ErrCodeValueTooLarge,
		ErrCodeInvalidCausalContext, ErrCodeInvalidQuorum, ErrCodeInvalidMode:
		return codes.InvalidArgument
	case ErrCodeLockTimeout:
		return codes.DeadlineExceeded
	case ErrCodeUnavailable, ErrCodePeerUnavailable, ErrCodeQuorumUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewReplicaError creates a new ReplicaError
func NewReplicaError(code ErrorCode, message string, cause error) *ReplicaError {
	return &ReplicaError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *ReplicaError) WithDetail(key string, value interface{}) *ReplicaError {
	e.Details[key] = value
	return e
}

// FromGRPC turns an error returned by a gRPC call back into a ReplicaError.
// Errors without a ReplicaError detail are classified by their gRPC code.
func FromGRPC(err error) *ReplicaError {
	if err == nil {
		return nil
	}
	var re *ReplicaError
	if stderrors.As(err, &re) {
		return re
	}
	st, ok := status.FromError(err)
	if !ok {
		return InternalError("peer call failed", err)
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		if code, ok := parseCode(info.GetReason()); ok {
			out := NewReplicaError(code, st.Message(), nil)
			for k, v := range info.GetMetadata() {
				out.Details[k] = v
			}
			return out
		}
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return NewReplicaError(ErrCodeInvalidArgument, st.Message(), err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return NewReplicaError(ErrCodePeerUnavailable, st.Message(), err)
	default:
		return NewReplicaError(ErrCodeInternal, st.Message(), err)
	}
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeInvalidArgument, message, cause)
}

func InvalidKey(key, reason string) *ReplicaError {
	return NewReplicaError(ErrCodeInvalidKey, fmt.Sprintf("invalid key '%s': %s", key, reason), nil).
		WithDetail("key", key).
		WithDetail("reason", reason)
}

func ValueTooLarge(size, maxSize int) *ReplicaError {
	return NewReplicaError(ErrCodeValueTooLarge, fmt.Sprintf("value size %d exceeds maximum %d", size, maxSize), nil).
		WithDetail("size", size).
		WithDetail("max_size", maxSize)
}

func InvalidCausalContext(reason string) *ReplicaError {
	return NewReplicaError(ErrCodeInvalidCausalContext, "invalid causal context: "+reason, nil).
		WithDetail("reason", reason)
}

func InvalidQuorum(quorum, replicas int) *ReplicaError {
	return NewReplicaError(ErrCodeInvalidQuorum, fmt.Sprintf("invalid read quorum %d for %d replicas", quorum, replicas), nil).
		WithDetail("quorum", quorum).
		WithDetail("replicas", replicas)
}

func InvalidMode(mode int) *ReplicaError {
	return NewReplicaError(ErrCodeInvalidMode, fmt.Sprintf("unknown consistency mode %d", mode), nil).
		WithDetail("mode", mode)
}

func LockTimeout(operation string, waited time.Duration) *ReplicaError {
	return NewReplicaError(ErrCodeLockTimeout, fmt.Sprintf("timed out after %s acquiring node lock for %s", waited, operation), nil).
		WithDetail("operation", operation).
		WithDetail("waited", waited.String())
}

func PeerUnavailable(peer int, cause error) *ReplicaError {
	return NewReplicaError(ErrCodePeerUnavailable, fmt.Sprintf("peer %d unavailable", peer), cause).
		WithDetail("peer", peer)
}

func QuorumUnavailable(key string, requested int) *ReplicaError {
	return NewReplicaError(ErrCodeQuorumUnavailable, fmt.Sprintf("no replica answered for key '%s'", key), nil).
		WithDetail("key", key).
		WithDetail("quorum", requested)
}

func InternalError(message string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *ReplicaError {
	return NewReplicaError(ErrCodeUnavailable, message, cause)
}

// IsReplicaError checks if an error is a ReplicaError
func IsReplicaError(err error) bool {
	var re *ReplicaError
	return stderrors.As(err, &re)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var re *ReplicaError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
