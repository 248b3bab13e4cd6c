package claim

import (
	"errors"
	"fmt"

	"github.com/aretw0/labrun/pkg/domain"
)

var (
	// ErrTransferFailChild means the resource is held by a descendant of the
	// requester and will not be handed back while that descendant wants it.
	ErrTransferFailChild = errors.New("claim held by a descendant")
	// ErrTransferFailUnknown means the resource is held by an unrelated symbol.
	ErrTransferFailUnknown = errors.New("claim held by an unrelated owner")
	// ErrTokenCancelled is returned to Token waiters after Cancel.
	ErrTokenCancelled = errors.New("claim token cancelled")
)

// TransferError is returned to err-flagged requests that lost arbitration.
type TransferError struct {
	Resource string
	Symbol   string
	Owner    string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("claim %s for %s: %v (owner %s)", e.Resource, e.Symbol, e.Err, e.Owner)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Diagnostic converts the failure into a warning for the requesting node.
func (e *TransferError) Diagnostic() domain.Diagnostic {
	id := "claim.transfer_fail_unknown"
	if errors.Is(e.Err, ErrTransferFailChild) {
		id = "claim.transfer_fail_child"
	}
	return domain.Diagnostic{
		Kind:    domain.DiagnosticWarning,
		ID:      id,
		Message: e.Error(),
	}
}

func transferError(resource string, requester, owner *Symbol) *TransferError {
	err := ErrTransferFailUnknown
	if requester.IsAncestorOf(owner) {
		err = ErrTransferFailChild
	}
	return &TransferError{
		Resource: resource,
		Symbol:   requester.String(),
		Owner:    owner.String(),
		Err:      err,
	}
}
