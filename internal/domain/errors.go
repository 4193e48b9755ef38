package domain

import "fmt"

// ErrorCode is a stable machine-readable rejection reason for batch items.
type ErrorCode string

const (
	CodeNonExistingTokenID ErrorCode = "NON_EXISTING_TOKEN_ID"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeInvalidSpender     ErrorCode = "INVALID_SPENDER"
	CodeApprovalNotFound   ErrorCode = "APPROVAL_DOES_NOT_EXIST"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeTooOld             ErrorCode = "TOO_OLD"
	CodeCreatedInFuture    ErrorCode = "CREATED_IN_FUTURE"
	CodeMemoTooLarge       ErrorCode = "MEMO_TOO_LARGE"
	CodeSupplyCapReached   ErrorCode = "SUPPLY_CAP_REACHED"
	CodeAborted            ErrorCode = "ABORTED"
	CodeGenericBatchError  ErrorCode = "GENERIC_BATCH_ERROR"
)

// TransferError is a typed per-item rejection. Business-rule failures are
// recovered locally and reported through this type, never as a terminating
// fault.
type TransferError struct {
	Code    ErrorCode
	Message string
}

func (e *TransferError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTransferError builds a typed rejection.
func NewTransferError(code ErrorCode, message string) *TransferError {
	return &TransferError{Code: code, Message: message}
}

// Is matches transfer errors by code so errors.Is works across instances.
func (e *TransferError) Is(target error) bool {
	other, ok := target.(*TransferError)
	return ok && other != nil && e != nil && e.Code == other.Code
}
