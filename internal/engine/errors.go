package engine

import (
	"errors"
	"fmt"
)

// ConfigErrorCode categorizes wiring faults detected at registration or
// first use.
type ConfigErrorCode string

const (
	// ErrCodeUnknownOperation: a rule references an operation no concept provides.
	ErrCodeUnknownOperation ConfigErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeWrongKind: a query in a when/then clause, or an action in a where step.
	ErrCodeWrongKind ConfigErrorCode = "WRONG_KIND"

	// ErrCodeUnboundVariable: a then template or where input uses a variable
	// that nothing before it can bind.
	ErrCodeUnboundVariable ConfigErrorCode = "UNBOUND_VARIABLE"

	// ErrCodeDuplicateRule: two rules share a name.
	ErrCodeDuplicateRule ConfigErrorCode = "DUPLICATE_RULE"

	// ErrCodeEmptyWhen: a rule has no when clause and could never fire.
	ErrCodeEmptyWhen ConfigErrorCode = "EMPTY_WHEN"
)

// ConfigError is a wiring bug in a rule. It is always fatal.
type ConfigError struct {
	Code    ConfigErrorCode
	Rule    string
	Clause  string // e.g. "then[0]", "where[1].input"
	Message string
}

func (e *ConfigError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("%s: rule %s %s: %s", e.Code, e.Rule, e.Clause, e.Message)
	}
	return fmt.Sprintf("%s: rule %s: %s", e.Code, e.Rule, e.Message)
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// RuntimeError represents an error detected while running a cascade.
//
// Domain failures ({error} results) and empty frame sets are not runtime
// errors; these are faults that stop the cascade.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Flow identifies the affected flow.
	Flow string

	// Rule identifies the firing rule, empty for external invocations.
	Rule string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeMalformedResult indicates an action returned both error and success fields.
	ErrCodeMalformedResult RuntimeErrorCode = "MALFORMED_RESULT"

	// ErrCodeMissingOperation indicates an invocation named an operation the catalog lacks.
	ErrCodeMissingOperation RuntimeErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeQuotaExceeded indicates the flow exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeBindingFailed indicates a then template could not be instantiated.
	ErrCodeBindingFailed RuntimeErrorCode = "BINDING_FAILED"
)

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Flow != "" && e.Rule != "":
		msg = fmt.Sprintf("%s (flow=%s, rule=%s)", msg, e.Flow, e.Rule)
	case e.Flow != "":
		msg = fmt.Sprintf("%s (flow=%s)", msg, e.Flow)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) && re.Code == ErrCodeQuotaExceeded {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// IsRuntimeError reports whether err carries the given runtime error code.
func IsRuntimeError(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == code
}
