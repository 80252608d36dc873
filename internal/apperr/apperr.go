// Package apperr defines the enumerated error kinds carried across RPC
// and CLI boundaries (spec §7): every failure surfaced to a caller is a
// {code, message} pair, never a bare string.
package apperr

import "fmt"

// Code is a closed set of RPC/CLI-facing error kinds.
type Code string

const (
	// Precondition
	CodeInvalidParams         Code = "InvalidParams"
	CodeInvalidGuid           Code = "InvalidGuid"
	CodeUnsupportedCapability Code = "UnsupportedCapability"
	CodeUnsupportedPlatform   Code = "UnsupportedPlatform"

	// Not found
	CodeNotFound Code = "NotFound"

	// Parse
	CodeParseMetaUnexpectedType Code = "ParseMetaUnexpectedType"
	CodeParentMetaMissing       Code = "ParentMetaMissing"
	CodeCutOutOfRange           Code = "CutOutOfRange"

	// I/O
	CodeReadFile  Code = "ReadFile"
	CodeWriteFile Code = "WriteFile"
	CodeCreateDir Code = "CreateDir"
	CodeRename    Code = "Rename"

	// Auth
	CodeAuthFailed               Code = "AuthFailed"
	CodePairingExpired           Code = "PairingExpired"
	CodePairingAttemptsExhausted Code = "PairingAttemptsExhausted"

	// Transport
	CodeWs     Code = "Ws"
	CodeBase64 Code = "Base64"
	CodeJSON   Code = "Json"

	// Catch-all
	CodeError Code = "Error"
)

// fatalToConnection holds the codes that terminate a transport
// connection attempt outright (spec §4.9 step 4, §7).
var fatalToConnection = map[Code]bool{
	CodeAuthFailed: true,
	CodeWs:         true,
}

// IsFatalToConnection reports whether an error of this code should
// tear down the whole connection rather than just fail one RPC.
func IsFatalToConnection(code Code) bool {
	return fatalToConnection[code]
}

// Error is the concrete error type carrying a Code, a human message,
// and an optional path or line number for I/O/parse errors that name
// one (spec §7's "all carry the path").
type Error struct {
	Code    Code
	Message string
	Path    string
	LineNo  int
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a plain {code, message} error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithPath builds an I/O error carrying the path it failed on.
func WithPath(code Code, path string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Code: code, Message: msg, Path: path}
}

// NotFound builds a NotFound error naming the missing entity.
func NotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Message: what + " not found"}
}

// CutOutOfRange builds the CutOutOfRange{line_no} parse error.
func CutOutOfRange(lineNo int) *Error {
	return &Error{Code: CodeCutOutOfRange, Message: fmt.Sprintf("cut line %d is out of range", lineNo), LineNo: lineNo}
}

// AsAppError unwraps err (via errors.As semantics, inlined to avoid an
// import cycle concern in callers that already use errors.As) into an
// *Error, falling back to a generic CodeError wrapper for anything that
// isn't already one — the RPC dispatcher's single point of translation
// from "any subsystem error" to the wire's {code, message} pair.
func AsAppError(err error) *Error {
	if err == nil {
		return nil
	}
	for e := err; e != nil; {
		if appErr, ok := e.(*Error); ok {
			return appErr
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return &Error{Code: CodeError, Message: err.Error()}
}
