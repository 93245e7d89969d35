package compiler

import (
	"errors"
	"fmt"

	"github.com/roach88/recipesync/internal/engine"
	"github.com/roach88/recipesync/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrUnknownOperation = "E110" // operation not in the manifest
	ErrWrongKind        = "E111" // query in when/then, action in where
	ErrUnboundVariable  = "E112" // variable used before anything binds it
	ErrDuplicateRule    = "E113" // two rules share a name
	ErrEmptyWhen        = "E114" // rule can never fire
	ErrInvalidRule      = "E115" // malformed step, stray default, then output
)

// ValidationError is one problem found in a compiled rule.
type ValidationError struct {
	Rule    string `json:"rule"`
	Clause  string `json:"clause,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Clause != "" {
		return fmt.Sprintf("[%s] %s %s: %s", e.Code, e.Rule, e.Clause, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Rule, e.Message)
}

// Validate checks rules against the operations sigs declares, with the
// same checks the engine runs at registration. Unlike registration it
// does not stop at the first problem: every rule is checked on its own
// and all errors are returned, in rule order.
func Validate(sigs engine.Signatures, rules []ir.Rule) []ValidationError {
	var errs []ValidationError

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Name] {
			errs = append(errs, ValidationError{
				Rule:    r.Name,
				Message: "rule name is used more than once",
				Code:    ErrDuplicateRule,
			})
			continue
		}
		seen[r.Name] = true

		if _, err := engine.Register(sigs, r); err != nil {
			errs = append(errs, toValidationError(r.Name, err))
		}
	}

	return errs
}

func toValidationError(rule string, err error) ValidationError {
	var ce *engine.ConfigError
	if !errors.As(err, &ce) {
		return ValidationError{Rule: rule, Message: err.Error(), Code: ErrInvalidRule}
	}
	return ValidationError{
		Rule:    rule,
		Clause:  ce.Clause,
		Message: ce.Message,
		Code:    validationCode(ce.Code),
	}
}

func validationCode(code engine.ConfigErrorCode) string {
	switch code {
	case engine.ErrCodeUnknownOperation:
		return ErrUnknownOperation
	case engine.ErrCodeWrongKind:
		return ErrWrongKind
	case engine.ErrCodeUnboundVariable:
		return ErrUnboundVariable
	case engine.ErrCodeDuplicateRule:
		return ErrDuplicateRule
	case engine.ErrCodeEmptyWhen:
		return ErrEmptyWhen
	default:
		return ErrInvalidRule
	}
}
