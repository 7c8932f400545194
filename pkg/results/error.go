package results

import (
	"errors"
	"fmt"
	"strings"
)

// Error holds a message, a reason and a child, allowing for an error
// chain that can be classified. The common use-case here will be to wrap
// errors from callsites:
//
//	if err := client.JobDetails(ctx, id); err != nil {
//	    return results.ForReason(results.ReasonTransientRemote).WithError(err).Errorf("could not poll job %s", id)
//	}
type Error struct {
	reason  Reason
	message string
	wrapped error
}

// Error makes an Error an error
func (e *Error) Error() string {
	if e.wrapped == nil || e.message == e.wrapped.Error() {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.wrapped)
}

// Unwrap allows nesting of errors
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is allows us to say we are an Error
func (e *Error) Is(target error) bool {
	_, is := target.(*Error)
	return is
}

// ReasonFor returns the outermost reason in the chain of err, or
// ReasonUnknown if no Error is part of the chain. For aggregates the
// first child carrying a reason wins.
func ReasonFor(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.reason
	}
	if agg, ok := err.(interface{ Errors() []error }); ok {
		for _, child := range agg.Errors() {
			if r := ReasonFor(child); r != ReasonUnknown {
				return r
			}
		}
	}
	return ReasonUnknown
}

// HasReason reports whether the outermost reason of err is reason.
func HasReason(err error, reason Reason) bool {
	return err != nil && ReasonFor(err) == reason
}

// FullReason joins the chain of reasons, outermost first.
func FullReason(err error) string {
	reasons := Reasons(err)
	if len(reasons) == 0 {
		return string(ReasonUnknown)
	}
	return strings.Join(reasons, ",")
}

// Reasons provides the chains of error reasons.
// Each item in the return value is a single chain divided by colons. Aggregate
// errors, those whose type provides an `Errors` method returning a list of
// errors, are recursively expanded, generating a separate chain for each
// child.
func Reasons(errs ...error) (ret []string) {
	for _, err := range errs {
		switch err := err.(type) {
		case *Error:
			children := Reasons(err.Unwrap())
			if len(children) == 0 {
				ret = append(ret, string(err.reason))
				break
			}
			for _, r := range children {
				ret = append(ret, fmt.Sprintf("%s:%s", err.reason, r))
			}
		case interface{ Errors() []error }:
			ret = append(ret, Reasons(err.Errors()...)...)
		case interface{ Unwrap() error }:
			ret = append(ret, Reasons(err.Unwrap())...)
		}
	}
	return
}

// BuilderWithReason starts the builder chain
type BuilderWithReason struct {
	Error
}

// ForReason is a constructor for an Error from a Reason. We expect
// users to then add a child and a error message to this Error.
func ForReason(reason Reason) *BuilderWithReason {
	if reason == "" {
		reason = ReasonUnknown
	}
	return &BuilderWithReason{
		Error: Error{
			reason: reason,
		},
	}
}

// BuilderWithReasonAndError adds a child error to the builder
type BuilderWithReasonAndError struct {
	Error
}

// WithError is a builder that adds a child to the Error. We
// expect users to continue to build the Error by adding a message.
func (e *BuilderWithReason) WithError(err error) *BuilderWithReasonAndError {
	b := &BuilderWithReasonAndError{
		Error: e.Error,
	}
	b.wrapped = err
	return b
}

// Errorf is a builder that adds in the main error to an Error.
// This is expected to be the final builder/producer in a chain,
// so we return an error and not an Error
func (e *BuilderWithReasonAndError) Errorf(format string, args ...interface{}) error {
	e.message = fmt.Sprintf(format, args...)
	return &e.Error
}

// Errorf creates a reason-tagged error without a child.
func (e *BuilderWithReason) Errorf(format string, args ...interface{}) error {
	e.message = fmt.Sprintf(format, args...)
	return &e.Error
}

// ForError is a constructor for when a caller does not want to add
// a child but instead wants a simple error. For instance, wrapping
// the outcome of a function that doesn't return an Error itself:
//
//	err := results.ForReason(results.ReasonLocalIO).ForError(os.MkdirAll(dir, 0755))
func (e *BuilderWithReason) ForError(err error) error {
	if err == nil {
		return nil
	}
	e.wrapped = err
	e.message = err.Error()
	return &e.Error
}

// DefaultReason is a constructor that adds a reason if needed, when we
// want to ensure that consumers downstream of a callsite have an Error.
//
// annotated := DefaultReason(doSomething())
func DefaultReason(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, &Error{}) {
		return err
	}

	return ForReason(ReasonUnknown).ForError(err)
}
