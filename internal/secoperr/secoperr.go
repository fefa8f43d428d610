// Package secoperr defines the internal error/warning taxonomy (spec §7) and
// its mapping to the wire-level error token set (spec §6).
package secoperr

import "fmt"

// Kind identifies one entry of the internal error/warning taxonomy.
type Kind string

// Warnings (positive severity). These never abort a build step; they
// accumulate and are reported by node_complete.
const (
	NoDescription     Kind = "NoDescription"
	CustomProperty    Kind = "CustomProperty"
	BufferTooSmall    Kind = "BufferTooSmall"
	MissingProperties Kind = "MissingProperties"
)

// Errors (negative severity).
const (
	UnknownCommand    Kind = "UnknownCommand"
	InvalidName       Kind = "InvalidName"
	InvalidNode       Kind = "InvalidNode"
	InvalidModule     Kind = "InvalidModule"
	InvalidParameter  Kind = "InvalidParameter"
	InvalidProperty   Kind = "InvalidProperty"
	InvalidCommand    Kind = "InvalidCommand"
	NotImplemented    Kind = "NotImplemented"
	ReadOnly          Kind = "ReadOnly"
	NoData            Kind = "NoData"
	NoMemory          Kind = "NoMemory"
	NotInitialized    Kind = "NotInitialized"
	InvalidValue      Kind = "InvalidValue"
	MissingMandatory  Kind = "MissingMandatory"
	NoSetter          Kind = "NoSetter"
	NoGetter          Kind = "NoGetter"
	NameAlreadyUsed   Kind = "NameAlreadyUsed"
	Timeout           Kind = "Timeout"
	CommandFailed     Kind = "CommandFailed"
	CommandRunning    Kind = "CommandRunning"
	CommFailed        Kind = "CommFailed"
	IsBusy            Kind = "IsBusy"
	IsError           Kind = "IsError"
	Disabled          Kind = "Disabled"
	Syntax            Kind = "Syntax"
	Internal          Kind = "Internal"
)

var warningKinds = map[Kind]bool{
	NoDescription:     true,
	CustomProperty:    true,
	BufferTooSmall:    true,
	MissingProperties: true,
}

// IsWarning reports whether k carries positive (warning) severity.
func IsWarning(k Kind) bool { return warningKinds[k] }

// Error is the internal representation of a single warning/error produced
// while building or driving a node.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error for kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Warning reports whether this error is a warning (positive severity).
func (e *Error) Warning() bool { return IsWarning(e.Kind) }

// Token is the wire-level error token set from spec §6. Every client-facing
// reply carries one of these, never an internal Kind directly.
type Token string

const (
	TokenNoSuchModule        Token = "NoSuchModule"
	TokenNoSuchParameter     Token = "NoSuchParameter"
	TokenNoSuchCommand       Token = "NoSuchCommand"
	TokenNotImplemented      Token = "NotImplemented"
	TokenCommunicationFailed Token = "CommunicationFailed"
	TokenCommandRunning      Token = "CommandRunning"
	TokenReadOnly            Token = "ReadOnly"
	TokenBadValue            Token = "BadValue"
	TokenIsBusy              Token = "IsBusy"
	TokenIsError             Token = "IsError"
	TokenDisabled            Token = "Disabled"
	TokenProtocolError       Token = "ProtocolError"
	TokenInternalError       Token = "InternalError"
)

// kindToToken maps the internal taxonomy onto the wire token set. Several
// internal kinds collapse onto the same token; the internal Kind stays in
// logs while only the token reaches the client.
var kindToToken = map[Kind]Token{
	InvalidModule:    TokenNoSuchModule,
	InvalidParameter: TokenNoSuchParameter,
	InvalidCommand:   TokenNoSuchCommand,
	UnknownCommand:   TokenNoSuchCommand,
	NotImplemented:   TokenNotImplemented,
	Timeout:          TokenCommunicationFailed,
	CommFailed:       TokenCommunicationFailed,
	CommandRunning:   TokenCommandRunning,
	ReadOnly:         TokenReadOnly,
	InvalidValue:     TokenBadValue,
	InvalidProperty:  TokenBadValue,
	MissingMandatory: TokenBadValue,
	IsBusy:           TokenIsBusy,
	IsError:          TokenIsError,
	Disabled:         TokenDisabled,
	Syntax:           TokenProtocolError,
	InvalidName:      TokenProtocolError,
	NotInitialized:   TokenInternalError,
	NoSetter:         TokenInternalError,
	NoGetter:         TokenInternalError,
	NameAlreadyUsed:  TokenInternalError,
	Internal:         TokenInternalError,
	NoMemory:         TokenInternalError,
	NoData:           TokenInternalError,
	CommandFailed:    TokenInternalError,
	InvalidNode:      TokenInternalError,
}

// ToToken maps an internal Kind to its wire token, defaulting to
// InternalError for anything not in the table (warnings are never emitted
// on the wire, so they fall through to the same default harmlessly).
func ToToken(k Kind) Token {
	if t, ok := kindToToken[k]; ok {
		return t
	}
	return TokenInternalError
}

// AsSecopError extracts an *Error from err, if it is one or wraps one.
func AsSecopError(err error) (*Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
