package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Kind enumerates the error classes the engine can return. The numbering is
// part of the wire contract (clients match on the code, not the string) and
// must never be reassigned once shipped; append new kinds at the end.
type Kind uint32

const (
	KindNotRentExempt Kind = iota + 1
	KindEscrowMismatch
	KindOwnerMismatch
	KindInvalidInstruction
	KindTimeEnd
	KindAlreadyCancel
	KindAlreadyWithdrawn
	KindOverflow
	KindPublicKeyMismatch
	KindAlreadyPaused
	KindAlreadyResumed
	KindStreamAlreadyCreated
	KindStreamNotStarted
	KindStreamedAmt
	KindCancelNotAllowed
	KindInsufficientFunds
	KindMissingRequiredSignature
)

var kindLabels = map[Kind]string{
	KindNotRentExempt:            "NotRentExempt",
	KindEscrowMismatch:           "EscrowMismatch",
	KindOwnerMismatch:            "OwnerMismatch",
	KindInvalidInstruction:       "InvalidInstruction",
	KindTimeEnd:                  "TimeEnd",
	KindAlreadyCancel:            "AlreadyCancel",
	KindAlreadyWithdrawn:         "AlreadyWithdrawn",
	KindOverflow:                 "Overflow",
	KindPublicKeyMismatch:        "PublicKeyMismatch",
	KindAlreadyPaused:            "AlreadyPaused",
	KindAlreadyResumed:           "AlreadyResumed",
	KindStreamAlreadyCreated:     "StreamAlreadyCreated",
	KindStreamNotStarted:         "StreamNotStarted",
	KindStreamedAmt:              "StreamedAmt",
	KindCancelNotAllowed:         "CancelNotAllowed",
	KindInsufficientFunds:        "InsufficientFunds",
	KindMissingRequiredSignature: "MissingRequiredSignature",
}

func (k Kind) String() string {
	if s, ok := kindLabels[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// Error is the engine's single error type. Every instruction abort surfaces
// one of these; there is no wrapped chain for callers to unwrap because the
// Kind code is the entire contract.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Code returns the wire-stable numeric code for this error.
func (e *Error) Code() uint32 { return uint32(e.Kind) }

// Fail builds an *Error and immediately emits the one-line observability
// record the runtime's log channel expects. Every dispatcher path returns
// through here so no abort goes unlogged.
func Fail(kind Kind, format string, args ...any) *Error {
	e := &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
	log.WithField("code", e.Code()).Errorf("[%s] %s", kind, e.Detail)
	return e
}

// AsError reports whether err is an *Error of the given kind.
func AsError(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
