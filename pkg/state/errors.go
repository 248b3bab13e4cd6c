package state

import (
	"fmt"

	"github.com/aretw0/labrun/pkg/domain"
)

// InternalError is recorded when a consumer fails or panics.
type InternalError struct {
	Namespace string
	Err       error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("state consumer %q failed: %v", e.Namespace, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func (e *InternalError) Diagnostic() domain.Diagnostic {
	return domain.Diagnostic{
		Kind:    domain.DiagnosticError,
		ID:      "state.internal",
		Message: e.Error(),
	}
}

// ProtocolError is recorded when a consumer breaks the notification contract.
type ProtocolError struct {
	Namespace string
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("state consumer %q: %s", e.Namespace, e.Reason)
}

func (e *ProtocolError) Diagnostic() domain.Diagnostic {
	return domain.Diagnostic{
		Kind:    domain.DiagnosticError,
		ID:      "state.protocol",
		Message: e.Error(),
	}
}
