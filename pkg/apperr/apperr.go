// Package apperr implements the engine's error taxonomy: compile errors,
// parse errors, transform errors, sink I/O errors and invariant violations.
package apperr

import (
	"fmt"
	"runtime"
	"time"
)

// Kind classifies an error by where in the pipeline it originated. Kind
// drives propagation policy: compile errors are fatal at load, parse
// errors are absorbable inside opt/alt groups, transform errors divert a
// single record to the miss sink, sink errors are retried/rescued, and
// invariant violations abort the worker that raised them.
type Kind string

const (
	KindCompile          Kind = "compile"
	KindNotMatched       Kind = "not_matched"
	KindMalformedCompound Kind = "malformed_compound"
	KindRuleIncomplete   Kind = "rule_incomplete"
	KindPipeReject       Kind = "pipe_reject"
	KindTransform        Kind = "transform"
	KindSinkIO           Kind = "sink_io"
	KindInvariant        Kind = "invariant"
)

// Severity mirrors the levels a structured logger would filter on.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error is the engine's structured error type. The pdl, mdl, scan, lookup,
// dispatch, harness and sinkrt packages return *Error so callers can branch
// on Kind; the transports in internal/sinks, the sources, reload, tracing,
// the breaker's open-circuit error and the commands return plain
// fmt.Errorf errors.
type Error struct {
	Kind       Kind
	Component  string
	Operation  string
	Message    string
	Location   string // e.g. "line 4, column 12" for compile/parse errors
	Cause      error
	StackTrace string
	Metadata   map[string]interface{}
	Timestamp  time.Time
	Severity   Severity
}

func New(kind Kind, component, operation, message string) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		Kind:       kind,
		Component:  component,
		Operation:  operation,
		Message:    message,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
		Severity:   defaultSeverity(kind),
	}
}

func defaultSeverity(k Kind) Severity {
	switch k {
	case KindCompile, KindInvariant:
		return SeverityCritical
	case KindTransform, KindMalformedCompound:
		return SeverityHigh
	case KindSinkIO:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	loc := e.Location
	if loc != "" {
		loc = " @ " + loc
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s%s: %s: %v", e.Component, e.Operation, e.Kind, loc, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s%s: %s", e.Component, e.Operation, e.Kind, loc, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Wrap(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithLocation(loc string) *Error {
	e.Location = loc
	return e
}

func (e *Error) WithMetadata(key string, value interface{}) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// IsRecoverable reports whether the worker that observed this error may
// continue processing subsequent records.
func (e *Error) IsRecoverable() bool {
	switch e.Kind {
	case KindInvariant, KindCompile:
		return false
	default:
		return true
	}
}

// ToMap renders the error for structured logging (logrus.Fields-compatible).
func (e *Error) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"error_kind":      string(e.Kind),
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_message":   e.Message,
		"error_severity":  string(e.Severity),
		"error_timestamp": e.Timestamp,
	}
	if e.Location != "" {
		m["error_location"] = e.Location
	}
	if e.Cause != nil {
		m["error_cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		m["error_meta_"+k] = v
	}
	return m
}

// Constructors matching the taxonomy in the error-handling design.

func Compile(component, operation, message string) *Error {
	return New(KindCompile, component, operation, message)
}

func NotMatched(component, operation, message string) *Error {
	return New(KindNotMatched, component, operation, message)
}

func MalformedCompound(component, operation, message string) *Error {
	return New(KindMalformedCompound, component, operation, message)
}

func RuleIncomplete(component, operation, message string) *Error {
	return New(KindRuleIncomplete, component, operation, message)
}

func Transform(component, operation, message string) *Error {
	return New(KindTransform, component, operation, message)
}

func SinkIO(component, operation, message string) *Error {
	return New(KindSinkIO, component, operation, message)
}

func Invariant(component, operation, message string) *Error {
	return New(KindInvariant, component, operation, message)
}

// As reports whether err is an *Error, unwrapping standard wrap chains.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
