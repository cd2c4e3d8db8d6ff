// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of a failure.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindInvalidTransition    Kind = "invalid_transition"
	KindDoubleSettlement     Kind = "double_settlement"
	KindSettlementInProgress Kind = "settlement_in_progress"
	KindNoHistory            Kind = "no_history"
	KindLedgerUnavailable    Kind = "ledger_unavailable"
	KindLedgerRejected       Kind = "ledger_rejected"
	KindAuthFailure          Kind = "auth_failure"
	KindGatewayUnavailable   Kind = "gateway_unavailable"
	KindGatewayRejected      Kind = "gateway_rejected"
	KindInvalidRecipient     Kind = "invalid_recipient"
	KindInternal             Kind = "internal"
)

type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether a bounded retry may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindLedgerUnavailable, KindGatewayUnavailable:
		return true
	}
	return false
}

// Detail returns the human-readable part of err without the kind prefix.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Kind)
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
