package domain

import "fmt"

// DiagnosticKind categorizes a diagnostic.
type DiagnosticKind string

const (
	DiagnosticError   DiagnosticKind = "error"
	DiagnosticWarning DiagnosticKind = "warning"
)

// SourceRef points at a span of protocol source.
type SourceRef struct {
	Document string `json:"document"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Diagnostic is an error or warning attached to a tree node.
// Payload is forwarded verbatim; the runtime never inspects it.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message"`
	Refs    []SourceRef    `json:"refs,omitempty"`
	Payload any            `json:"payload,omitempty"`
}

// NewError builds an error diagnostic.
func NewError(id string, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: DiagnosticError, ID: id, Message: fmt.Sprintf(format, args...)}
}

// NewWarning builds a warning diagnostic.
func NewWarning(id string, format string, args ...any) Diagnostic {
	return Diagnostic{Kind: DiagnosticWarning, ID: id, Message: fmt.Sprintf(format, args...)}
}

// ErrorDiagnostic converts err into a diagnostic. Errors that carry their own
// diagnostic (implementing Diagnostic() Diagnostic) are unwrapped as-is.
func ErrorDiagnostic(id string, err error) Diagnostic {
	if d, ok := err.(interface{ Diagnostic() Diagnostic }); ok {
		return d.Diagnostic()
	}
	return Diagnostic{Kind: DiagnosticError, ID: id, Message: err.Error()}
}

// HasErrors reports whether any diagnostic is of kind error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Kind == DiagnosticError {
			return true
		}
	}
	return false
}
